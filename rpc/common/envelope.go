package common

import (
	"encoding/binary"
	"fmt"
)

// EnvelopeHeaderSize is the size of the request id prepended to every frame
const EnvelopeHeaderSize = 8

// KeepaliveID is the request id reserved for keepalive pings. Answers carrying
// it are never matched to a pending exchange.
const KeepaliveID uint64 = 0

// SealEnvelope prepends the request id to body. The server echoes the id so that
// answers can be matched to requests on a multiplexed link.
func SealEnvelope(id uint64, body []byte) []byte {
	frame := make([]byte, EnvelopeHeaderSize+len(body))
	binary.BigEndian.PutUint64(frame[:EnvelopeHeaderSize], id)
	copy(frame[EnvelopeHeaderSize:], body)
	return frame
}

// OpenEnvelope splits a frame into its request id and body. The body shares
// memory with frame.
func OpenEnvelope(frame []byte) (uint64, []byte, error) {
	if len(frame) < EnvelopeHeaderSize {
		return 0, nil, fmt.Errorf("frame of %d bytes is too short for an envelope", len(frame))
	}
	return binary.BigEndian.Uint64(frame[:EnvelopeHeaderSize]), frame[EnvelopeHeaderSize:], nil
}

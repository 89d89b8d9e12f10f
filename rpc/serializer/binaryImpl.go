package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dMux/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency. The encoding is deterministic, equal
// messages always produce equal bytes.
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasMethod     byte = 1 << 0
	hasPayload    byte = 1 << 1
	hasErr        byte = 1 << 2
	hasRetryAfter byte = 1 << 3
	hasChildren   byte = 1 << 4
)

// maxNesting bounds the depth of nested containers accepted by Deserialize
const maxNesting = 8

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, b.sizeBytes(&msg))
	pos, err := b.write(result, &msg, 0)
	if err != nil {
		return nil, err
	}
	return result[:pos], nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	pos, err := b.read(data, msg, 0)
	if err != nil {
		return err
	}
	if pos != len(data) {
		return fmt.Errorf("unexpected %d trailing bytes", len(data)-pos)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// write encodes msg into result (which must be large enough) and returns the
// number of bytes written
func (b binarySerializerImpl) write(result []byte, msg *common.Message, depth int) (int, error) {
	if depth > maxNesting {
		return 0, fmt.Errorf("containers nested deeper than %d levels", maxNesting)
	}

	// Write message type
	result[0] = byte(msg.MsgType)

	var flags byte = 0
	pos := 2 // Start after MsgType and flags

	putBytes := func(data []byte) {
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(data)))
		pos += 4
		copy(result[pos:pos+len(data)], data)
		pos += len(data)
	}

	if msg.Method != "" {
		flags |= hasMethod
		putBytes([]byte(msg.Method))
	}

	if msg.Payload != nil {
		flags |= hasPayload
		putBytes(msg.Payload)
	}

	if msg.Err != "" {
		flags |= hasErr
		putBytes([]byte(msg.Err))
	}

	if msg.RetryAfter > 0 {
		flags |= hasRetryAfter
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.RetryAfter)
		pos += 8
	}

	// Children are written as count followed by length prefixed members
	if msg.Children != nil {
		flags |= hasChildren
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(msg.Children)))
		pos += 4
		for i := range msg.Children {
			lenPos := pos
			pos += 4
			n, err := b.write(result[pos:], &msg.Children[i], depth+1)
			if err != nil {
				return 0, err
			}
			binary.BigEndian.PutUint32(result[lenPos:lenPos+4], uint32(n))
			pos += n
		}
	}

	// Set flags byte after knowing which fields are present
	result[1] = flags

	return pos, nil
}

// read decodes one message from data and returns the number of bytes consumed
func (b binarySerializerImpl) read(data []byte, msg *common.Message, depth int) (int, error) {
	if depth > maxNesting {
		return 0, fmt.Errorf("containers nested deeper than %d levels", maxNesting)
	}

	// Check minimum size (MsgType + flags)
	if len(data) < 2 {
		return 0, fmt.Errorf("data too short for message header")
	}

	msg.MsgType = common.MessageType(data[0])
	flags := data[1]
	pos := 2

	readBytes := func(field string) ([]byte, error) {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("data too short for %s length", field)
		}
		n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if n < 0 || pos+n > len(data) {
			return nil, fmt.Errorf("data too short for %s data", field)
		}
		out := data[pos : pos+n]
		pos += n
		return out, nil
	}

	// Read Method if present
	msg.Method = ""
	if flags&hasMethod != 0 {
		raw, err := readBytes("method")
		if err != nil {
			return 0, err
		}
		msg.Method = string(raw)
	}

	// Read Payload if present - create an empty slice (not nil) if length is 0
	msg.Payload = nil
	if flags&hasPayload != 0 {
		raw, err := readBytes("payload")
		if err != nil {
			return 0, err
		}
		msg.Payload = make([]byte, len(raw))
		copy(msg.Payload, raw)
	}

	// Read Err if present
	msg.Err = ""
	if flags&hasErr != 0 {
		raw, err := readBytes("error")
		if err != nil {
			return 0, err
		}
		msg.Err = string(raw)
	}

	// Read RetryAfter if present
	msg.RetryAfter = 0
	if flags&hasRetryAfter != 0 {
		if pos+8 > len(data) {
			return 0, fmt.Errorf("data too short for RetryAfter")
		}
		msg.RetryAfter = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	}

	// Read Children if present
	msg.Children = nil
	if flags&hasChildren != 0 {
		if pos+4 > len(data) {
			return 0, fmt.Errorf("data too short for children count")
		}
		count := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4

		// every child needs at least its length prefix and header
		if count < 0 || count > (len(data)-pos)/6 {
			return 0, fmt.Errorf("invalid children count %d", count)
		}

		msg.Children = make([]common.Message, count)
		for i := 0; i < count; i++ {
			raw, err := readBytes("child")
			if err != nil {
				return 0, err
			}
			n, err := b.read(raw, &msg.Children[i], depth+1)
			if err != nil {
				return 0, fmt.Errorf("child %d: %w", i, err)
			}
			if n != len(raw) {
				return 0, fmt.Errorf("child %d: unexpected trailing bytes", i)
			}
		}
	}

	return pos, nil
}

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg *common.Message) int {
	// 1 byte for MsgType + 1 byte for flags
	size := 2

	if msg.Method != "" {
		size += 4 + len(msg.Method) // 4 bytes for length + method string
	}
	if msg.Payload != nil {
		size += 4 + len(msg.Payload) // 4 bytes for length + payload bytes
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err) // 4 bytes for length + error string
	}
	if msg.RetryAfter > 0 {
		size += 8 // uint64
	}
	if msg.Children != nil {
		size += 4 // count
		for i := range msg.Children {
			size += 4 + b.sizeBytes(&msg.Children[i])
		}
	}

	return size
}

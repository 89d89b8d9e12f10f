package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message exchanged with the remote service.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Method is the declared request kind (e.g. "users.getUsers"). It drives
	// priority classification, batching eligibility and cache eligibility.
	Method  string `json:"method,omitempty"`  // Used for: Request, Response, Error
	Payload []byte `json:"payload,omitempty"` // Used for: Request (params), Response (result)

	// Response only fields
	Err        string `json:"err,omitempty"`         // Used for: Error
	RetryAfter uint64 `json:"retry_after,omitempty"` // Used for: FloodWait (seconds)

	// Children holds the members of a container (request or response)
	Children []Message `json:"children,omitempty"`
}

// Clone returns a deep copy of the message, children included.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Payload != nil {
		c.Payload = append([]byte(nil), m.Payload...)
	}
	if m.Children != nil {
		c.Children = make([]Message, len(m.Children))
		for i := range m.Children {
			c.Children[i] = *m.Children[i].Clone()
		}
	}
	return &c
}

// IsContainer reports whether the message wraps several members
func (m *Message) IsContainer() bool {
	return m.MsgType == MsgTContainer
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewRequest creates a new request for the given method
func NewRequest(method string, payload []byte) *Message {
	return &Message{
		MsgType: MsgTRequest,
		Method:  method,
		Payload: payload,
	}
}

// NewResponse creates a new (successful) response for the given method
func NewResponse(method string, payload []byte) *Message {
	return &Message{
		MsgType: MsgTResponse,
		Method:  method,
		Payload: payload,
	}
}

// NewErrorResponse creates a new error response
func NewErrorResponse(method, err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Method:  method,
		Err:     err,
	}
}

// NewFloodWait creates a flood wait response asking the caller to wait
// retryAfter seconds before repeating the request
func NewFloodWait(method string, retryAfter uint64) *Message {
	return &Message{
		MsgType:    MsgTFloodWait,
		Method:     method,
		RetryAfter: retryAfter,
		Err:        fmt.Sprintf("FLOOD_WAIT_%d", retryAfter),
	}
}

// NewContainer wraps the given messages into one container message
func NewContainer(members []Message) *Message {
	return &Message{
		MsgType:  MsgTContainer,
		Children: members,
	}
}

// NewPing creates a keepalive ping
func NewPing() *Message {
	return &Message{MsgType: MsgTPing}
}

// NewPong creates the answer to a keepalive ping
func NewPong() *Message {
	return &Message{MsgType: MsgTPong}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTRequest:
		return "request"
	case MsgTResponse:
		return "response"
	case MsgTError:
		return "error"
	case MsgTContainer:
		return "container"
	case MsgTPing:
		return "ping"
	case MsgTPong:
		return "pong"
	case MsgTFloodWait:
		return "flood_wait"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "request":
		*t = MsgTRequest
	case "response":
		*t = MsgTResponse
	case "error":
		*t = MsgTError
	case "container":
		*t = MsgTContainer
	case "ping":
		*t = MsgTPing
	case "pong":
		*t = MsgTPong
	case "flood_wait":
		*t = MsgTFloodWait
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	MsgTUnknown MessageType = iota

	// Exchange

	MsgTRequest   // A request for a method
	MsgTResponse  // The successful result of a request
	MsgTError     // The remote rejected the request
	MsgTContainer // Several requests or results sent as one exchange

	// Control

	MsgTPing      // Keepalive ping
	MsgTPong      // Keepalive answer
	MsgTFloodWait // Backpressure: retry after RetryAfter seconds
)

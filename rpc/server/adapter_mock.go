package server

import (
	"strconv"
	"strings"

	"github.com/ValentinKolb/dMux/rpc/common"
)

// Method prefixes with a special meaning for the mock adapter
const (
	// ErrorPrefix answers with an error response
	ErrorPrefix = "error."
	// FloodPrefix answers with a flood wait, the payload may carry the seconds
	FloodPrefix = "flood."
	// SilentPrefix never answers
	SilentPrefix = "silent."
)

// defaultFloodWait is the retry-after of a flood answer without payload
const defaultFloodWait = 1

// NewMockServerAdapter creates the adapter of the mock endpoint. It echoes the
// payload of every request and answers containers member by member, methods
// with one of the special prefixes trigger error, flood or silent answers.
func NewMockServerAdapter() IRPCServerAdapter {
	return &mockServerAdapterImpl{}
}

type mockServerAdapterImpl struct{}

func (adapter *mockServerAdapterImpl) Handle(req *common.Message) *common.Message {
	switch req.MsgType {
	case common.MsgTPing:
		return common.NewPong()
	case common.MsgTRequest:
		return adapter.handleRequest(req)
	case common.MsgTContainer:
		results := make([]common.Message, 0, len(req.Children))
		for i := range req.Children {
			child := &req.Children[i]
			if child.MsgType != common.MsgTRequest {
				results = append(results, *common.NewErrorResponse(child.Method, "CONTAINER_MEMBER_INVALID"))
				continue
			}
			resp := adapter.handleRequest(child)
			if resp == nil {
				// a silent member silences the whole container
				return nil
			}
			results = append(results, *resp)
		}
		return common.NewContainer(results)
	default:
		return common.NewErrorResponse(req.Method, "Unsupported message type: "+req.MsgType.String())
	}
}

func (adapter *mockServerAdapterImpl) handleRequest(req *common.Message) *common.Message {
	method := strings.ToLower(req.Method)
	switch {
	case strings.HasPrefix(method, ErrorPrefix):
		return common.NewErrorResponse(req.Method, "MOCK_ERROR")
	case strings.HasPrefix(method, FloodPrefix):
		seconds, err := strconv.ParseUint(string(req.Payload), 10, 64)
		if err != nil || seconds == 0 {
			seconds = defaultFloodWait
		}
		return common.NewFloodWait(req.Method, seconds)
	case strings.HasPrefix(method, SilentPrefix):
		return nil
	default:
		return common.NewResponse(req.Method, req.Payload)
	}
}

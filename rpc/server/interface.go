package server

import (
	"github.com/ValentinKolb/dMux/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response
	// A nil response means the request is never answered.
	// If an error occurs, it should be set in the response
	Handle(req *common.Message) (resp *common.Message)
}

package transport

import (
	"context"
	"errors"

	"github.com/ValentinKolb/dMux/rpc/common"
)

// ErrClosed is returned by Send and Receive once the transport is closed
var ErrClosed = errors.New("transport closed")

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a frame is received.
// The returned frame is sent back on the same connection (nil sends nothing).
type ServerHandleFunc func(req []byte) (resp []byte)

// IServerTransport is the interface for the server side of a transport
type IServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler should be called when a request is received
	RegisterHandler(handler ServerHandleFunc)
	// Listen binds the endpoint of the config and serves in the background
	Listen(config common.ServerConfig) error
	// Addr returns the bound address (useful when listening on port 0)
	Addr() string
	// Close stops serving and closes all connections
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// ITransport is a single transport level link to one endpoint. It moves
// opaque frames, every Send is delivered as exactly one frame to the remote
// and every frame from the remote is returned by exactly one Receive.
//
// Send may be called concurrently, Receive is called by one goroutine only.
type ITransport interface {
	// Connect establishes the link, it must honor the context deadline
	Connect(ctx context.Context, endpoint string) error
	// Send sends one frame
	Send(data []byte) error
	// Receive blocks until the next frame arrives or the link breaks
	Receive() ([]byte, error)
	// Close closes the link and unblocks Receive
	Close() error
	// Name returns the name of the transport type (e.g., "unix", "tcp")
	Name() string
}

// Factory creates a new, unconnected transport
type Factory func() ITransport

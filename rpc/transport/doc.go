// Package transport defines the transport collaborator of the dMux session
// runtime. A transport moves opaque frames over one link to one endpoint, it
// knows nothing about requests, batching or request ids (the connection layer
// adds those on top).
//
// Key Components:
//
//   - ITransport: Client side link with Connect, Send, Receive and Close.
//
//   - Factory: Creates unconnected transports, one per pooled connection.
//
//   - IServerTransport: Server side of a transport, used by the mock endpoint.
//
//   - ServerHandleFunc: Function type for request handling callbacks.
//
// Implementations live in the sub packages: tcp and unix (length prefixed
// frames over a net.Conn, see base), http (one POST per frame), ws (one binary
// WebSocket message per frame) and mem (in-process, for tests and benchmarks).
package transport

// Package rpc provides the session runtime of dMux. It keeps long-lived
// connections to a remote RPC-style service and multiplexes many logical
// requests over them.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the runtime,
//     including the Message protocol, the error taxonomy, configuration
//     structures with presets, and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, HTTP, WebSocket, in-process).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - conn: A single multiplexed connection with health, quality and keepalive.
//
//   - pool: The bounded connection pool with idle sweep and health based reuse.
//
//   - batch: The request batcher that sends several requests as one container.
//
//   - session: The façade that combines cache, batching, priority dispatch,
//     adaptive timeouts and error backoff behind one Send call.
//
//   - client: The runtime context that builds and owns all of the above.
//
//   - server: The mock endpoint used by tests, benchmarks and the serve command.
package rpc

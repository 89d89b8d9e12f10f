// Package mem implements an in-process transport. A server registers itself
// under its endpoint name when it starts listening, clients of the same
// process connect by that name. Frames are handed over without copying
// through the network stack, which makes the transport useful for tests and
// for benchmarking the session runtime without network noise.
//
// Closing the server breaks all client links: Receive returns io.EOF and
// Connect fails until a new server listens on the name.
package mem

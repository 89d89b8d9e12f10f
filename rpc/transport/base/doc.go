// Package base provides the stream transport shared by the tcp and unix
// transports. Every frame is written as a 4 byte big endian length followed by
// the payload, header and payload are combined with net.Buffers into a single
// write.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Protocol-specific dialing, listening
//     and socket tuning.
//
//   - clientTransport: Implements transport.ITransport over one net.Conn. Writes
//     are serialized by a mutex, reads go through a buffered reader.
//
//   - serverTransport: Accepts connections and hands every frame to the
//     registered handler. Each connection processes up to WorkersPerConn frames
//     concurrently and reuses read buffers through a sync.Pool.
package base

// Package server implements the mock remote endpoint of the dMux session
// runtime. It answers enveloped frames of any server transport, which makes
// it the counterpart used by the tests, the serve command and benchmarks.
//
// The package focuses on:
//   - Echoing the request id of every envelope so that answers can be matched
//     on multiplexed links
//   - Opening and sealing frame bodies with the crypto pool when a key is set
//   - Adapter pattern to decouple the answer logic from the RPC mechanics
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server adapters,
//     with the Handle method that turns a request into its answer.
//
//   - NewMockServerAdapter: Echoes request payloads, answers containers member
//     by member and pings with pongs. Methods prefixed with "error.", "flood."
//     or "silent." are answered with an error, a flood wait or not at all.
//
//   - NewRPCServer: Factory function creating a configured server with the specified
//     transport, serializer and adapter.
//
//   - NewServerTransport: Selects the server side of a transport by name.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Endpoint:       "0.0.0.0:8080",
//	  Transport:      common.TransportConfig{Type: "tcp"},
//	  WorkersPerConn: 16,
//	  Latency:        5 * time.Millisecond,
//	}
//
//	t, _ := server.NewServerTransport(config.Transport.Type)
//	s := server.NewRPCServer(config, t, serializer.NewBinarySerializer(), server.NewMockServerAdapter())
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server failed: %v", err)
//	}
//	defer s.Close()
package server

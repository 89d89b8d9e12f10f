package session

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/ValentinKolb/dMux/rpc/serializer"
	"github.com/ValentinKolb/dMux/rpc/server"
	"github.com/ValentinKolb/dMux/rpc/transport/mem"
)

// startLocalEndpoint serves the mock endpoint in process on the mem
// transport, matching the serializer and crypto key of cfg
func startLocalEndpoint(cfg common.ClientConfig, latency time.Duration) (func(), string, error) {
	s, err := serializer.New(cfg.Transport.Serializer)
	if err != nil {
		return nil, "", err
	}

	config := common.ServerConfig{
		Endpoint:       cfg.Endpoint,
		Transport:      cfg.Transport,
		Latency:        latency,
		WorkersPerConn: 64,
	}
	if cfg.Crypto.Enabled {
		if cfg.Crypto.Key == "" {
			return nil, "", fmt.Errorf("crypto.key must be set to benchmark crypto against the local endpoint")
		}
		config.CryptoKey = cfg.Crypto.Key
	}

	srv := server.NewRPCServer(config, mem.NewMemServerTransport(), s, server.NewMockServerAdapter())
	if err := srv.Serve(); err != nil {
		return nil, "", err
	}
	return func() { _ = srv.Close() }, srv.Addr(), nil
}

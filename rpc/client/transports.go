package client

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/ValentinKolb/dMux/rpc/transport"
	"github.com/ValentinKolb/dMux/rpc/transport/http"
	"github.com/ValentinKolb/dMux/rpc/transport/mem"
	"github.com/ValentinKolb/dMux/rpc/transport/tcp"
	"github.com/ValentinKolb/dMux/rpc/transport/unix"
	"github.com/ValentinKolb/dMux/rpc/transport/ws"
)

// NewTransportFactory returns a factory for the client side of the transport
// named in config.Type
func NewTransportFactory(config common.TransportConfig) (transport.Factory, error) {
	var create func(common.TransportConfig) transport.ITransport
	switch strings.ToLower(config.Type) {
	case "tcp", "":
		create = tcp.NewTCPClientTransport
	case "unix":
		create = unix.NewUnixClientTransport
	case "http":
		create = http.NewHttpClientTransport
	case "ws":
		create = ws.NewWsClientTransport
	case "mem":
		create = mem.NewMemClientTransport
	default:
		return nil, fmt.Errorf("unknown transport %q (tcp, unix, http, ws, mem)", config.Type)
	}
	return func() transport.ITransport { return create(config) }, nil
}

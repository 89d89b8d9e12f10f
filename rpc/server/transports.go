package server

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dMux/rpc/transport"
	"github.com/ValentinKolb/dMux/rpc/transport/http"
	"github.com/ValentinKolb/dMux/rpc/transport/mem"
	"github.com/ValentinKolb/dMux/rpc/transport/tcp"
	"github.com/ValentinKolb/dMux/rpc/transport/unix"
	"github.com/ValentinKolb/dMux/rpc/transport/ws"
)

// NewServerTransport returns the server side of the named transport
func NewServerTransport(name string) (transport.IServerTransport, error) {
	switch strings.ToLower(name) {
	case "tcp":
		return tcp.NewTCPServerTransport(), nil
	case "unix":
		return unix.NewUnixServerTransport(), nil
	case "http":
		return http.NewHttpServerTransport(), nil
	case "ws":
		return ws.NewWsServerTransport(), nil
	case "mem":
		return mem.NewMemServerTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (tcp, unix, http, ws, mem)", name)
	}
}

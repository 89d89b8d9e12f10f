package mem

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/ValentinKolb/dMux/rpc/transport"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport")

// registry maps endpoint names to listening servers of this process
var registry = xsync.NewMapOf[string, *memServerTransport]()

// inboxSize bounds the number of answers buffered for one client
const inboxSize = 256

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

// NewMemServerTransport creates an in-process server transport. Clients of
// the same process reach it by the endpoint name it listens on.
func NewMemServerTransport() transport.IServerTransport {
	return &memServerTransport{closed: make(chan struct{})}
}

type memServerTransport struct {
	handler   transport.ServerHandleFunc
	config    common.ServerConfig
	endpoint  string
	closed    chan struct{}
	closeOnce sync.Once
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IServerTransport)
// --------------------------------------------------------------------------

func (s *memServerTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	s.handler = handler
}

func (s *memServerTransport) Listen(config common.ServerConfig) error {
	if s.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	s.config = config
	if s.config.WorkersPerConn < 1 {
		s.config.WorkersPerConn = 1
	}

	// an empty endpoint picks a free name, like port 0 does for tcp
	s.endpoint = config.Endpoint
	if s.endpoint == "" {
		s.endpoint = "mem-" + uuid.NewString()
	}

	if _, loaded := registry.LoadOrStore(s.endpoint, s); loaded {
		return fmt.Errorf("mem endpoint %s already in use", s.endpoint)
	}
	Logger.Infof("Starting mem server on %s with %d workers per connection", s.endpoint, s.config.WorkersPerConn)
	return nil
}

func (s *memServerTransport) Addr() string {
	return s.endpoint
}

func (s *memServerTransport) Close() error {
	s.closeOnce.Do(func() {
		registry.Compute(s.endpoint, func(old *memServerTransport, loaded bool) (*memServerTransport, bool) {
			// only remove the entry if it still belongs to this server
			return old, !loaded || old == s
		})
		close(s.closed)
	})
	return nil
}

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// NewMemClientTransport creates a client for a mem server of this process
func NewMemClientTransport(_ common.TransportConfig) transport.ITransport {
	return &memClientTransport{
		inbox:  make(chan []byte, inboxSize),
		closed: make(chan struct{}),
	}
}

type memClientTransport struct {
	server    *memServerTransport
	workers   chan struct{}
	inbox     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.ITransport)
// --------------------------------------------------------------------------

func (c *memClientTransport) Connect(ctx context.Context, endpoint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	srv, ok := registry.Load(endpoint)
	if !ok {
		return fmt.Errorf("failed to connect to %s: no mem server listening", endpoint)
	}
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	c.server = srv
	c.workers = make(chan struct{}, srv.config.WorkersPerConn)
	return nil
}

func (c *memClientTransport) Send(data []byte) error {
	if c.server == nil {
		return fmt.Errorf("transport not connected")
	}
	select {
	case <-c.closed:
		return transport.ErrClosed
	case <-c.server.closed:
		return io.ErrClosedPipe
	default:
	}

	// the caller may reuse data once Send returns
	frame := append([]byte(nil), data...)

	select {
	case c.workers <- struct{}{}:
	case <-c.closed:
		return transport.ErrClosed
	case <-c.server.closed:
		return io.ErrClosedPipe
	}

	go func() {
		defer func() { <-c.workers }()
		resp := c.server.handler(frame)
		if resp == nil {
			return
		}
		select {
		case c.inbox <- resp:
		case <-c.closed:
		case <-c.server.closed:
		}
	}()
	return nil
}

func (c *memClientTransport) Receive() ([]byte, error) {
	if c.server == nil {
		return nil, fmt.Errorf("transport not connected")
	}
	select {
	case data := <-c.inbox:
		return data, nil
	case <-c.closed:
		return nil, transport.ErrClosed
	case <-c.server.closed:
		return nil, io.EOF
	}
}

func (c *memClientTransport) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *memClientTransport) Name() string {
	return "mem"
}

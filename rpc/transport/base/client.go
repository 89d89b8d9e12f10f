package base

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/ValentinKolb/dMux/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(ctx context.Context, endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.TransportConfig) error
}

// -----------------------------------------------------------
// Client Transport
// -----------------------------------------------------------

// clientTransport moves length prefixed frames over a net.Conn
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector IClientConnector
	config    common.TransportConfig

	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex // Protects writes to the connection
	closeMu sync.Mutex
	closed  bool
}

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector, config common.TransportConfig) transport.ITransport {
	return &clientTransport{
		connector: connector,
		config:    config,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.ITransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(ctx context.Context, endpoint string) error {
	conn, err := t.connector.Connect(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	// Upgrade the connection with protocol-specific settings
	if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to upgrade connection to %s: %w", endpoint, err)
	}

	readBuf := t.config.ReadBufferSize
	if readBuf <= 0 {
		readBuf = 64 * 1024
	}

	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.closed {
		_ = conn.Close()
		return transport.ErrClosed
	}
	t.conn = conn
	t.reader = bufio.NewReaderSize(conn, readBuf)
	Logger.Debugf("%s connection to %s established", t.connector.GetName(), endpoint)
	return nil
}

func (t *clientTransport) Send(data []byte) error {
	conn, err := t.current()
	if err != nil {
		return err
	}

	// Lock the connection only for writing
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return writeFrame(conn, data)
}

func (t *clientTransport) Receive() ([]byte, error) {
	if _, err := t.current(); err != nil {
		return nil, err
	}

	data, err := readFrame(t.reader, nil, t.config.MaxFrameSize)
	if err != nil && t.isClosed() {
		return nil, transport.ErrClosed
	}
	return data, err
}

func (t *clientTransport) Close() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

func (t *clientTransport) Name() string {
	return t.connector.GetName()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *clientTransport) current() (net.Conn, error) {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.closed {
		return nil, transport.ErrClosed
	}
	if t.conn == nil {
		return nil, errors.New("transport not connected")
	}
	return t.conn, nil
}

func (t *clientTransport) isClosed() bool {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	return t.closed
}

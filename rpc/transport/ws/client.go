package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/ValentinKolb/dMux/rpc/transport"
	"github.com/gorilla/websocket"
)

// Path is the http path the websocket endpoint is served on
const Path = "/ws"

// handshakeTimeout is used when the connect context carries no deadline
const handshakeTimeout = 10 * time.Second

// NewWsClientTransport creates a websocket transport, every frame is sent as
// one binary message.
func NewWsClientTransport(config common.TransportConfig) transport.ITransport {
	return &wsClientTransport{config: config}
}

type wsClientTransport struct {
	config common.TransportConfig

	conn    *websocket.Conn
	writeMu sync.Mutex // gorilla allows one concurrent writer only
	closeMu sync.Mutex
	closed  bool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.ITransport)
// --------------------------------------------------------------------------

func (t *wsClientTransport) Connect(ctx context.Context, endpoint string) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		ReadBufferSize:   t.config.ReadBufferSize,
		WriteBufferSize:  t.config.WriteBufferSize,
	}

	conn, _, err := dialer.DialContext(ctx, wsURL(endpoint), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	if t.config.MaxFrameSize > 0 {
		conn.SetReadLimit(int64(t.config.MaxFrameSize))
	}

	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.closed {
		_ = conn.Close()
		return transport.ErrClosed
	}
	t.conn = conn
	return nil
}

func (t *wsClientTransport) Send(data []byte) error {
	conn, err := t.current()
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *wsClientTransport) Receive() ([]byte, error) {
	conn, err := t.current()
	if err != nil {
		return nil, err
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if t.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, transport.ErrClosed
			}
			return nil, err
		}
		if msgType == websocket.BinaryMessage {
			return data, nil
		}
		// text messages are not part of the protocol
	}
}

func (t *wsClientTransport) Close() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn == nil {
		return nil
	}

	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return t.conn.Close()
}

func (t *wsClientTransport) Name() string {
	return "ws"
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *wsClientTransport) current() (*websocket.Conn, error) {
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

func (t *wsClientTransport) isClosed() bool {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	return t.closed
}

// wsURL turns host:port endpoints into ws://host:port/ws
func wsURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return endpoint
	}
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return "ws://" + strings.TrimSuffix(endpoint, "/") + Path
}

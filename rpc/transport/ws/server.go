package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/ValentinKolb/dMux/rpc/transport"
	"github.com/gorilla/websocket"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport")

// NewWsServerTransport creates the server side of the websocket transport
func NewWsServerTransport() transport.IServerTransport {
	return &wsServerTransport{
		conns: make(map[*websocket.Conn]struct{}),
	}
}

type wsServerTransport struct {
	handler  transport.ServerHandleFunc
	config   common.ServerConfig
	upgrader websocket.Upgrader
	listener net.Listener
	server   *http.Server

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	wg    sync.WaitGroup
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IServerTransport)
// --------------------------------------------------------------------------

func (t *wsServerTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *wsServerTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return errors.New("no handler registered")
	}
	t.config = config
	if t.config.WorkersPerConn < 1 {
		t.config.WorkersPerConn = 1
	}
	t.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.Transport.ReadBufferSize,
		WriteBufferSize: config.Transport.WriteBufferSize,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+Path, t.ServeHTTP)

	listener, err := net.Listen("tcp", config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", config.Endpoint, err)
	}
	t.listener = listener
	t.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	Logger.Infof("Starting websocket server on %s%s", listener.Addr(), Path)
	go func() {
		if err := t.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("Websocket server stopped: %v", err)
		}
	}()
	return nil
}

func (t *wsServerTransport) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

func (t *wsServerTransport) Close() error {
	if t.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := t.server.Shutdown(ctx)

	// hijacked connections are not closed by Shutdown
	t.mu.Lock()
	for conn := range t.conns {
		_ = conn.Close()
	}
	t.mu.Unlock()

	t.wg.Wait()
	return err
}

// ServeHTTP upgrades the request and serves the connection until it breaks.
// It is exported so the endpoint can be mounted on an existing http server.
func (t *wsServerTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		Logger.Warningf("Failed to upgrade connection from %s: %v", r.RemoteAddr, err)
		return
	}
	if t.config.Transport.MaxFrameSize > 0 {
		conn.SetReadLimit(int64(t.config.Transport.MaxFrameSize))
	}

	t.mu.Lock()
	t.conns[conn] = struct{}{}
	t.mu.Unlock()

	t.wg.Add(1)
	defer t.wg.Done()
	t.handleConnection(conn)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection reads binary messages and answers them with up to
// WorkersPerConn concurrent handler calls
func (t *wsServerTransport) handleConnection(conn *websocket.Conn) {
	defer func() {
		t.mu.Lock()
		delete(t.conns, conn)
		t.mu.Unlock()
		_ = conn.Close()
	}()

	workerSemaphore := make(chan struct{}, t.config.WorkersPerConn)
	var workers sync.WaitGroup
	var writeMu sync.Mutex

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				Logger.Warningf("Error handling request: %v", err)
			} else {
				Logger.Debugf("Connection closed by client")
			}
			break
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		workerSemaphore <- struct{}{}
		workers.Add(1)
		go func(data []byte) {
			defer func() {
				<-workerSemaphore
				workers.Done()
			}()

			resp := t.handler(data)
			if resp == nil {
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := conn.WriteMessage(websocket.BinaryMessage, resp); err != nil {
				Logger.Debugf("Failed to write response: %v", err)
			}
		}(data)
	}

	workers.Wait()
}

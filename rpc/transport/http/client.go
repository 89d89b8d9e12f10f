package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/ValentinKolb/dMux/rpc/transport"
)

// inboxSize bounds the number of responses buffered for Receive
const inboxSize = 256

// NewHttpClientTransport creates a transport that sends every frame as one POST
// request, the response body is the answer frame.
func NewHttpClientTransport(config common.TransportConfig) transport.ITransport {
	return &httpClientTransport{
		config: config,
		inbox:  make(chan []byte, inboxSize),
		closed: make(chan struct{}),
	}
}

type httpClientTransport struct {
	config    common.TransportConfig
	client    *http.Client
	rpcURL    string
	inbox     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.ITransport)
// --------------------------------------------------------------------------

func (t *httpClientTransport) Connect(ctx context.Context, endpoint string) error {
	base := endpoint
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	base = strings.TrimSuffix(base, "/")

	t.client = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			WriteBufferSize:     t.config.WriteBufferSize,
			ReadBufferSize:      t.config.ReadBufferSize,
		},
	}
	t.rpcURL = base + "/rpc"

	// The health check doubles as the handshake
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check of %s failed: %s", endpoint, resp.Status)
	}
	return nil
}

func (t *httpClientTransport) Send(data []byte) error {
	select {
	case <-t.closed:
		return transport.ErrClosed
	default:
	}
	if t.client == nil {
		return fmt.Errorf("http transport not connected")
	}

	resp, err := t.client.Post(t.rpcURL, "application/octet-stream", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil
	default:
		return fmt.Errorf("http error: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	select {
	case t.inbox <- body:
		return nil
	case <-t.closed:
		return transport.ErrClosed
	}
}

func (t *httpClientTransport) Receive() ([]byte, error) {
	select {
	case data := <-t.inbox:
		return data, nil
	case <-t.closed:
		return nil, transport.ErrClosed
	}
}

func (t *httpClientTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.client != nil {
			t.client.CloseIdleConnections()
		}
	})
	return nil
}

func (t *httpClientTransport) Name() string {
	return "http"
}

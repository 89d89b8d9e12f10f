package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/ValentinKolb/dMux/rpc/transport"
)

func TestWsRoundTrip(t *testing.T) {
	srv := NewWsServerTransport()
	srv.RegisterHandler(func(req []byte) []byte { return req })
	if err := srv.Listen(common.ServerConfig{Endpoint: "127.0.0.1:0", WorkersPerConn: 2}); err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer srv.Close()

	client := NewWsClientTransport(common.DefaultClientConfig().Transport)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx, srv.Addr()); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}

	if err := client.Send([]byte("ping")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	data, err := client.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(data) != "ping" {
		t.Errorf("Expected ping, got %q", data)
	}

	_ = client.Close()
	if _, err := client.Receive(); err != transport.ErrClosed {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
}

func TestWsMountedOnHttptest(t *testing.T) {
	srv := NewWsServerTransport().(*wsServerTransport)
	srv.RegisterHandler(func(req []byte) []byte { return []byte(strings.ToUpper(string(req))) })
	srv.config.WorkersPerConn = 1

	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := NewWsClientTransport(common.TransportConfig{})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + Path
	if err := client.Connect(context.Background(), url); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	if err := client.Send([]byte("abc")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	data, err := client.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(data) != "ABC" {
		t.Errorf("Expected ABC, got %q", data)
	}
}

func TestWsURL(t *testing.T) {
	cases := map[string]string{
		"localhost:8080":        "ws://localhost:8080/ws",
		"http://localhost:8080": "ws://localhost:8080/ws",
		"wss://example.org/ws":  "wss://example.org/ws",
	}
	for in, want := range cases {
		if got := wsURL(in); got != want {
			t.Errorf("wsURL(%q) = %q, want %q", in, got, want)
		}
	}
}

package http

import (
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/dMux/rpc/common"
)

func TestHttpRoundTrip(t *testing.T) {
	srv := NewHttpServerTransport()
	srv.RegisterHandler(func(req []byte) []byte {
		if string(req) == "silent" {
			return nil
		}
		return append(req, '!')
	})
	cfg := common.ServerConfig{Endpoint: "127.0.0.1:0", LogLevel: "debug"}
	if err := srv.Listen(cfg); err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer srv.Close()

	client := NewHttpClientTransport(common.DefaultClientConfig().Transport)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx, srv.Addr()); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	if err := client.Send([]byte("silent")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := client.Send([]byte("hi")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	data, err := client.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(data) != "hi!" {
		t.Errorf("Expected hi!, got %q", data)
	}
}

func TestHttpConnectFailsWithoutServer(t *testing.T) {
	client := NewHttpClientTransport(common.DefaultClientConfig().Transport)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Connect(ctx, "127.0.0.1:1"); err == nil {
		t.Error("Expected connect to fail")
	}
}

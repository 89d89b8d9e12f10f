package unix

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dMux/rpc/common"
)

func TestUnixRoundTrip(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "dmux.sock")

	srv := NewUnixServerTransport()
	srv.RegisterHandler(func(req []byte) []byte {
		if string(req) == "silent" {
			return nil
		}
		return req
	})
	cfg := common.ServerConfig{Endpoint: socket, Transport: common.DefaultClientConfig().Transport, WorkersPerConn: 2}
	if err := srv.Listen(cfg); err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer srv.Close()

	client := NewUnixClientTransport(common.DefaultClientConfig().Transport)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx, socket); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	// frames without answer must not block the link
	if err := client.Send([]byte("silent")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := client.Send([]byte("hello")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	data, err := client.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("Expected hello, got %q", data)
	}
}

package mem

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/ValentinKolb/dMux/rpc/transport"
)

func TestMemRoundTrip(t *testing.T) {
	srv := NewMemServerTransport()
	srv.RegisterHandler(func(req []byte) []byte { return append([]byte("re:"), req...) })
	if err := srv.Listen(common.ServerConfig{}); err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer srv.Close()

	client := NewMemClientTransport(common.TransportConfig{})
	if err := client.Connect(context.Background(), srv.Addr()); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	buf := []byte("a")
	if err := client.Send(buf); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	buf[0] = 'z' // the transport must have copied the frame

	data, err := client.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(data) != "re:a" {
		t.Errorf("Expected re:a, got %q", data)
	}
}

func TestMemEndpointInUse(t *testing.T) {
	a := NewMemServerTransport()
	a.RegisterHandler(func(req []byte) []byte { return nil })
	if err := a.Listen(common.ServerConfig{Endpoint: "mem-test-in-use"}); err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	b := NewMemServerTransport()
	b.RegisterHandler(func(req []byte) []byte { return nil })
	if err := b.Listen(common.ServerConfig{Endpoint: "mem-test-in-use"}); err == nil {
		t.Error("Expected second listen on the same name to fail")
	}

	_ = a.Close()
	if err := b.Listen(common.ServerConfig{Endpoint: "mem-test-in-use"}); err != nil {
		t.Errorf("Expected name to be free after close: %v", err)
	}
	_ = b.Close()
}

func TestMemServerCloseBreaksLink(t *testing.T) {
	srv := NewMemServerTransport()
	srv.RegisterHandler(func(req []byte) []byte { return req })
	if err := srv.Listen(common.ServerConfig{}); err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := srv.Addr()

	client := NewMemClientTransport(common.TransportConfig{})
	if err := client.Connect(context.Background(), addr); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := client.Receive()
		done <- err
	}()
	_ = srv.Close()

	select {
	case err := <-done:
		if !errors.Is(err, io.EOF) {
			t.Errorf("Expected EOF, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not return after server close")
	}

	if err := NewMemClientTransport(common.TransportConfig{}).Connect(context.Background(), addr); err == nil {
		t.Error("Expected connect to a closed server to fail")
	}

	_ = client.Close()
	if _, err := client.Receive(); err != transport.ErrClosed && !errors.Is(err, io.EOF) {
		t.Errorf("Unexpected error after close: %v", err)
	}
}

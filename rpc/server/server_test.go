package server

import (
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/dMux/lib/crypto"
	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/ValentinKolb/dMux/rpc/serializer"
	"github.com/ValentinKolb/dMux/rpc/transport/mem"
)

var codec = serializer.NewBinarySerializer()

func newTestServer(t *testing.T, config common.ServerConfig) *RPCServer {
	t.Helper()
	s := NewRPCServer(config, mem.NewMemServerTransport(), codec, NewMockServerAdapter())
	if err := s.Serve(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// call sends msg with request id 7 through the handler and decodes the answer
func call(t *testing.T, s *RPCServer, msg *common.Message) *common.Message {
	t.Helper()
	body, err := codec.Serialize(*msg)
	if err != nil {
		t.Fatalf("Failed to encode request: %v", err)
	}
	frame := s.handle(common.SealEnvelope(7, body))
	if frame == nil {
		return nil
	}
	id, body, err := common.OpenEnvelope(frame)
	if err != nil {
		t.Fatalf("Malformed answer: %v", err)
	}
	if id != 7 {
		t.Errorf("Expected request id 7 to be echoed, got %d", id)
	}
	var resp common.Message
	if err := codec.Deserialize(body, &resp); err != nil {
		t.Fatalf("Failed to decode answer: %v", err)
	}
	return &resp
}

func TestMockAnswers(t *testing.T) {
	s := newTestServer(t, common.ServerConfig{WorkersPerConn: 2})

	t.Run("echo", func(t *testing.T) {
		resp := call(t, s, common.NewRequest("users.getMe", []byte("me")))
		if resp.MsgType != common.MsgTResponse || string(resp.Payload) != "me" || resp.Method != "users.getMe" {
			t.Errorf("Unexpected answer %+v", resp)
		}
	})

	t.Run("ping", func(t *testing.T) {
		if resp := call(t, s, common.NewPing()); resp.MsgType != common.MsgTPong {
			t.Errorf("Expected pong, got %s", resp.MsgType)
		}
	})

	t.Run("error", func(t *testing.T) {
		resp := call(t, s, common.NewRequest("error.users", nil))
		if resp.MsgType != common.MsgTError || resp.Err != "MOCK_ERROR" {
			t.Errorf("Expected error answer, got %+v", resp)
		}
	})

	t.Run("flood", func(t *testing.T) {
		if resp := call(t, s, common.NewRequest("flood.send", []byte("12"))); resp.MsgType != common.MsgTFloodWait || resp.RetryAfter != 12 {
			t.Errorf("Expected flood wait of 12s, got %+v", resp)
		}
		if resp := call(t, s, common.NewRequest("flood.send", nil)); resp.RetryAfter != defaultFloodWait {
			t.Errorf("Expected default flood wait, got %d", resp.RetryAfter)
		}
	})

	t.Run("silent", func(t *testing.T) {
		if resp := call(t, s, common.NewRequest("silent.users", nil)); resp != nil {
			t.Errorf("Expected no answer, got %+v", resp)
		}
	})

	t.Run("container", func(t *testing.T) {
		resp := call(t, s, common.NewContainer([]common.Message{
			*common.NewRequest("users.a", []byte("1")),
			*common.NewRequest("error.b", nil),
			*common.NewRequest("users.c", []byte("3")),
		}))
		if !resp.IsContainer() || len(resp.Children) != 3 {
			t.Fatalf("Expected container with 3 results, got %+v", resp)
		}
		if string(resp.Children[0].Payload) != "1" || resp.Children[1].MsgType != common.MsgTError || string(resp.Children[2].Payload) != "3" {
			t.Errorf("Unexpected results %+v", resp.Children)
		}
	})
}

func TestMalformedFrames(t *testing.T) {
	s := newTestServer(t, common.ServerConfig{})

	if frame := s.handle([]byte{1, 2}); frame != nil {
		t.Error("Expected frames without envelope to be dropped")
	}

	frame := s.handle(common.SealEnvelope(3, []byte{0xff}))
	_, body, err := common.OpenEnvelope(frame)
	if err != nil {
		t.Fatalf("Expected an answer for an undecodable body: %v", err)
	}
	var resp common.Message
	if err := codec.Deserialize(body, &resp); err != nil || resp.MsgType != common.MsgTError {
		t.Errorf("Expected error answer, got %+v (%v)", resp, err)
	}

	if stats := s.Stats(); stats.Requests != 2 || stats.Failures != 2 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestLatency(t *testing.T) {
	s := newTestServer(t, common.ServerConfig{Latency: 50 * time.Millisecond})

	start := time.Now()
	call(t, s, common.NewRequest("users.getMe", nil))
	if took := time.Since(start); took < 50*time.Millisecond {
		t.Errorf("Expected answer to be delayed, took %s", took)
	}

	start = time.Now()
	call(t, s, common.NewPing())
	if took := time.Since(start); took >= 50*time.Millisecond {
		t.Errorf("Expected pings not to be delayed, took %s", took)
	}
}

func TestSealedEnvelope(t *testing.T) {
	client, err := crypto.NewPool(common.CryptoConfig{Enabled: true, Backend: "aes-ctr", Workers: 1})
	if err != nil {
		t.Fatalf("Failed to create crypto pool: %v", err)
	}
	s := newTestServer(t, common.ServerConfig{CryptoKey: client.Key()})
	ctx := context.Background()

	body, _ := codec.Serialize(*common.NewRequest("users.getMe", []byte("secret")))
	sealed, err := client.Seal(ctx, body)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	_, answer, err := common.OpenEnvelope(s.handle(common.SealEnvelope(1, sealed)))
	if err != nil {
		t.Fatalf("Malformed answer: %v", err)
	}
	opened, err := client.Open(ctx, answer)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	var resp common.Message
	if err := codec.Deserialize(opened, &resp); err != nil || string(resp.Payload) != "secret" {
		t.Errorf("Expected sealed echo, got %+v (%v)", resp, err)
	}
}

func TestServeOverTransport(t *testing.T) {
	s := newTestServer(t, common.ServerConfig{WorkersPerConn: 2})

	c := mem.NewMemClientTransport(common.TransportConfig{})
	if err := c.Connect(context.Background(), s.Addr()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	body, _ := codec.Serialize(*common.NewRequest("users.getMe", []byte("x")))
	if err := c.Send(common.SealEnvelope(9, body)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	frame, err := c.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if id, _, _ := common.OpenEnvelope(frame); id != 9 {
		t.Errorf("Expected answer to request 9, got %d", id)
	}
}

func TestNewServerTransport(t *testing.T) {
	for _, name := range []string{"tcp", "unix", "http", "ws", "mem", "TCP"} {
		if _, err := NewServerTransport(name); err != nil {
			t.Errorf("NewServerTransport(%q) failed: %v", name, err)
		}
	}
	if _, err := NewServerTransport("carrier-pigeon"); err == nil {
		t.Error("Expected error for unknown transport")
	}
}

package crypto

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dMux/rpc/common"
)

func testConfig() common.CryptoConfig {
	return common.CryptoConfig{Enabled: true, Backend: "aes-ctr", Workers: 2, HashCacheSize: 10}
}

func TestRoundTrip(t *testing.T) {
	p, err := NewPool(testConfig())
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	ctx := context.Background()

	for _, size := range []int{0, 1, 15, 16, 17, 1024, 64 * 1024} {
		plain := make([]byte, size)
		for i := range plain {
			plain[i] = byte(rand.IntN(256))
		}

		sealed, err := p.Seal(ctx, plain)
		if err != nil {
			t.Fatalf("Seal(%d bytes) failed: %v", size, err)
		}
		if size > 0 && bytes.Equal(sealed[IVSize:], plain) {
			t.Errorf("Sealed payload of %d bytes equals the plain text", size)
		}

		opened, err := p.Open(ctx, sealed)
		if err != nil {
			t.Fatalf("Open(%d bytes) failed: %v", size, err)
		}
		if !bytes.Equal(opened, plain) {
			t.Errorf("Round trip of %d bytes returned a different payload", size)
		}
	}
}

func TestSharedKey(t *testing.T) {
	a, _ := NewPool(testConfig())
	cfg := testConfig()
	cfg.Key = a.Key()
	b, err := NewPool(cfg)
	if err != nil {
		t.Fatalf("Failed to create pool with key: %v", err)
	}

	sealed, _ := a.Seal(context.Background(), []byte("hello"))
	opened, err := b.Open(context.Background(), sealed)
	if err != nil || string(opened) != "hello" {
		t.Errorf("Expected pools sharing a key to interoperate, got %q (%v)", opened, err)
	}

	cfg.Key = "abcd"
	if _, err := NewPool(cfg); err == nil {
		t.Error("Expected error for short key")
	}
}

func TestNoneBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Backend = "none"
	p, err := NewPool(cfg)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}

	if _, err := p.Seal(context.Background(), []byte("x")); !errors.Is(err, common.ErrCryptoUnavailable) {
		t.Errorf("Expected CryptoUnavailable, got %v", err)
	}
	if _, err := p.Hash(context.Background(), []byte("x")); !errors.Is(err, common.ErrCryptoUnavailable) {
		t.Errorf("Expected CryptoUnavailable, got %v", err)
	}
	if err := p.Available(); !errors.Is(err, common.ErrCryptoUnavailable) {
		t.Errorf("Expected none backend to be unavailable, got %v", err)
	}
	if _, err := NewBackend("rot13"); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestHashCache(t *testing.T) {
	p, _ := NewPool(testConfig())
	ctx := context.Background()

	h1, _ := p.Hash(ctx, []byte("data"))
	h2, _ := p.Hash(ctx, []byte("data"))
	if !bytes.Equal(h1, h2) || len(h1) != 32 {
		t.Errorf("Unexpected digests %x / %x", h1, h2)
	}
	if s := p.Stats(); s.Hash.Calls != 1 || s.HashCache != 1 {
		t.Errorf("Expected second hash to be served from cache, stats %+v", s)
	}
}

func TestWorkerBound(t *testing.T) {
	p, _ := NewPool(testConfig())

	// occupy both workers
	if err := p.sem.Acquire(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.Seal(ctx, []byte("x")); !errors.Is(err, common.ErrTimeout) {
		t.Errorf("Expected timeout while all workers are busy, got %v", err)
	}
	p.sem.Release(2)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Seal(context.Background(), []byte("payload")); err != nil {
				t.Errorf("Seal failed: %v", err)
			}
		}()
	}
	wg.Wait()
	if s := p.Stats(); s.Encrypt.Calls != 20 {
		t.Errorf("Expected 20 encrypt calls, got %d", s.Encrypt.Calls)
	}
}

func TestErrorKinds(t *testing.T) {
	p, _ := NewPool(testConfig())
	if err := p.Available(); err != nil {
		t.Errorf("Expected aes-ctr backend to be available, got %v", err)
	}

	if _, err := p.Open(context.Background(), []byte("short")); !errors.Is(err, common.ErrRemote) {
		t.Errorf("Expected remote error for a short payload, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.sem.Acquire(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	defer p.sem.Release(2)
	if _, err := p.Seal(ctx, []byte("x")); !errors.Is(err, common.ErrTimeout) {
		t.Errorf("Expected timeout for a cancelled call, got %v", err)
	}
}

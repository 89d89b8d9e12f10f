package crypto

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dMux/rpc/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/semaphore"
)

var Logger = logger.GetLogger("crypto")

// KeySize is the size of the session key in bytes
const KeySize = 32

// IVSize is the size of the iv prepended to sealed payloads
const IVSize = 16

// OpStats counts calls and time spent of one operation
type OpStats struct {
	Calls  uint64
	Errors uint64
	Total  time.Duration
}

// Stats is a snapshot of the pool counters
type Stats struct {
	Backend   string
	Workers   int
	Encrypt   OpStats
	Decrypt   OpStats
	Hash      OpStats
	HashCache int
}

type opCounters struct {
	calls, errors atomic.Uint64
	nanos         atomic.Int64
}

func (c *opCounters) observe(start time.Time, err error) {
	c.calls.Add(1)
	c.nanos.Add(int64(time.Since(start)))
	if err != nil {
		c.errors.Add(1)
	}
}

func (c *opCounters) snapshot() OpStats {
	return OpStats{Calls: c.calls.Load(), Errors: c.errors.Load(), Total: time.Duration(c.nanos.Load())}
}

// Pool runs crypto work of a backend on a bounded number of workers, so
// that CPU bound work never occupies more than Workers goroutines at once.
type Pool struct {
	backend IBackend
	key     []byte
	workers int
	sem     *semaphore.Weighted
	hashes  *lru.Cache[string, []byte]

	encrypt, decrypt, hash opCounters
}

// NewPool creates a worker pool for the configured backend. An empty key
// generates a random one (the remote must then be given Key()).
func NewPool(cfg common.CryptoConfig) (*Pool, error) {
	backend, err := NewBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}

	key, err := parseKey(cfg.Key)
	if err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = min(4, runtime.NumCPU())
	}

	p := &Pool{
		backend: backend,
		key:     key,
		workers: workers,
		sem:     semaphore.NewWeighted(int64(workers)),
	}
	if cfg.HashCacheSize > 0 {
		if p.hashes, err = lru.New[string, []byte](cfg.HashCacheSize); err != nil {
			return nil, err
		}
	}

	Logger.Infof("crypto pool started (backend=%s, workers=%d)", backend.Name(), workers)
	return p, nil
}

// parseKey decodes a hex key or creates a random one
func parseKey(s string) ([]byte, error) {
	if s == "" {
		key := make([]byte, KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
		return key, nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid crypto key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid crypto key length %d, expected %d bytes", len(key), KeySize)
	}
	return key, nil
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// Key returns the hex encoded session key
func (p *Pool) Key() string {
	return hex.EncodeToString(p.key)
}

// Backend returns the name of the backend
func (p *Pool) Backend() string {
	return p.backend.Name()
}

// Available fails with CryptoUnavailable if the backend cannot do any work
func (p *Pool) Available() error {
	if _, ok := p.backend.(noneBackend); ok {
		return common.NewError(common.CodeCryptoUnavailable, nil, "no crypto backend")
	}
	return nil
}

// Seal encrypts plain with a fresh random iv and returns iv || ciphertext
func (p *Pool) Seal(ctx context.Context, plain []byte) ([]byte, error) {
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, common.NewError(common.CodeCryptoUnavailable, err, "generating iv")
	}

	var out []byte
	err := p.run(ctx, &p.encrypt, func() (err error) {
		out, err = p.backend.Encrypt(plain, p.key, iv)
		return err
	})
	if err != nil {
		return nil, err
	}
	return append(iv, out...), nil
}

// Open reverses Seal
func (p *Pool) Open(ctx context.Context, sealed []byte) ([]byte, error) {
	if len(sealed) < IVSize {
		return nil, common.NewError(common.CodeRemoteError, nil, "sealed payload too short (%d bytes)", len(sealed))
	}

	var out []byte
	err := p.run(ctx, &p.decrypt, func() (err error) {
		out, err = p.backend.Decrypt(sealed[IVSize:], p.key, sealed[:IVSize])
		return err
	})
	return out, err
}

// Hash returns the digest of data, recent digests are served from a cache
func (p *Pool) Hash(ctx context.Context, data []byte) ([]byte, error) {
	if p.hashes != nil {
		if sum, ok := p.hashes.Get(string(data)); ok {
			return append([]byte(nil), sum...), nil
		}
	}

	var sum []byte
	err := p.run(ctx, &p.hash, func() (err error) {
		sum, err = p.backend.Hash(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	if p.hashes != nil {
		p.hashes.Add(string(data), append([]byte(nil), sum...))
	}
	return sum, nil
}

// Stats returns a snapshot of the counters
func (p *Pool) Stats() Stats {
	s := Stats{
		Backend: p.backend.Name(),
		Workers: p.workers,
		Encrypt: p.encrypt.snapshot(),
		Decrypt: p.decrypt.snapshot(),
		Hash:    p.hash.snapshot(),
	}
	if p.hashes != nil {
		s.HashCache = p.hashes.Len()
	}
	return s
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// run executes fn once a worker slot is free
func (p *Pool) run(ctx context.Context, c *opCounters, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return common.NewError(common.CodeTimeout, err, "waiting for crypto worker")
	}
	defer p.sem.Release(1)

	start := time.Now()
	err := fn()
	c.observe(start, err)
	return err
}

package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/ValentinKolb/dMux/rpc/conn"
	"github.com/ValentinKolb/dMux/rpc/transport"
	"github.com/ValentinKolb/dMux/rpc/transport/mem"
	gometrics "github.com/rcrowley/go-metrics"
)

// flakyTransport fails every send while fail is set
type flakyTransport struct {
	transport.ITransport
	fail *atomic.Bool
}

func (f *flakyTransport) Send(data []byte) error {
	if f.fail.Load() {
		return errors.New("send failed")
	}
	return f.ITransport.Send(data)
}

func testPoolConfig() common.PoolConfig {
	return common.PoolConfig{
		MaxConnections:    2,
		MinConnections:    0,
		IdleTimeout:       5 * time.Minute,
		ReuseLimit:        100,
		AcquirePoll:       100 * time.Millisecond,
		DegradedThreshold: 0.3,
	}
}

func startEchoServer(t *testing.T) transport.IServerTransport {
	t.Helper()
	srv := mem.NewMemServerTransport()
	srv.RegisterHandler(func(req []byte) []byte { return req })
	if err := srv.Listen(common.ServerConfig{WorkersPerConn: 4}); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func newTestPool(t *testing.T, cfg common.PoolConfig, fail *atomic.Bool) (*Pool, string) {
	t.Helper()
	srv := startEchoServer(t)
	if fail == nil {
		fail = &atomic.Bool{}
	}

	dial := func(endpoint string, registry gometrics.Registry) *conn.Connection {
		return conn.New(conn.Params{
			Endpoint: endpoint,
			Factory: func() transport.ITransport {
				return &flakyTransport{ITransport: mem.NewMemClientTransport(common.TransportConfig{}), fail: fail}
			},
			Config: common.ConnectionConfig{
				MaxAttempts:       2,
				ConnectTimeout:    time.Second,
				MaxConnectTimeout: time.Second,
				BackoffBase:       time.Millisecond,
				MaxBackoff:        5 * time.Millisecond,
				KeepaliveInterval: time.Hour,
			},
			Registry: registry,
		})
	}

	p := New(cfg, dial)
	t.Cleanup(func() { _ = p.Close() })
	return p, srv.Addr()
}

func TestAcquireReuse(t *testing.T) {
	p, endpoint := newTestPool(t, testPoolConfig(), nil)
	ctx := context.Background()

	c1, err := p.Acquire(ctx, endpoint)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if resp, err := c1.Exchange(ctx, []byte("x")); err != nil || string(resp) != "x" {
		t.Fatalf("Exchange failed: %q, %v", resp, err)
	}
	p.Release(c1)

	c2, err := p.Acquire(ctx, endpoint)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if c2 != c1 {
		t.Error("Expected the checked-in connection to be reused")
	}
	if p.Uses(c2) != 2 {
		t.Errorf("Expected 2 uses, got %d", p.Uses(c2))
	}

	s := p.Stats()
	if s.Created != 1 || s.Reused != 1 || s.Active != 1 || s.Available != 0 {
		t.Errorf("Unexpected stats: %+v", s)
	}
	if len(p.Connections()) != 1 {
		t.Errorf("Expected one connection summary, got %d", len(p.Connections()))
	}
	if h, ok := p.Health(endpoint); !ok || h != 1.0 {
		t.Errorf("Expected health 1.0, got %f (%t)", h, ok)
	}
	if _, ok := p.Health("elsewhere"); ok {
		t.Error("Expected no health for an unknown endpoint")
	}
}

func TestSaturatedAcquireWaitsForRelease(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaxConnections = 1
	cfg.AcquirePoll = time.Second // the release notification must wake the waiter
	p, endpoint := newTestPool(t, cfg, nil)
	ctx := context.Background()

	c1, err := p.Acquire(ctx, endpoint)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	got := make(chan *conn.Connection, 1)
	go func() {
		c, err := p.Acquire(ctx, endpoint)
		if err != nil {
			t.Errorf("Second acquire failed: %v", err)
		}
		got <- c
	}()

	select {
	case <-got:
		t.Fatal("Second acquire returned while the only connection was checked out")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(c1)
	select {
	case c2 := <-got:
		if c2 != c1 {
			t.Error("Expected the released connection")
		}
		if p.Uses(c2) != 2 {
			t.Errorf("Expected 2 uses, got %d", p.Uses(c2))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Waiter was not woken by the release")
	}
	if p.Stats().Waits != 1 {
		t.Errorf("Expected one wait, got %d", p.Stats().Waits)
	}
}

func TestAcquireContextTimeout(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaxConnections = 1
	p, endpoint := newTestPool(t, cfg, nil)

	if _, err := p.Acquire(context.Background(), endpoint); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx, endpoint); !errors.Is(err, common.ErrTimeout) {
		t.Errorf("Expected timeout, got %v", err)
	}
}

func TestNeverExceedsMax(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaxConnections = 3
	cfg.AcquirePoll = 5 * time.Millisecond
	p, endpoint := newTestPool(t, cfg, nil)

	var inUse, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				c, err := p.Acquire(context.Background(), endpoint)
				if err != nil {
					t.Errorf("Acquire failed: %v", err)
					return
				}
				n := inUse.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				if _, err := c.Exchange(context.Background(), []byte("x")); err != nil {
					t.Errorf("Exchange failed: %v", err)
				}
				if s := p.Stats(); s.Active+s.Creating > 3 {
					t.Errorf("Pool exceeded its limit: %+v", s)
				}
				inUse.Add(-1)
				p.Release(c)
			}
		}()
	}
	wg.Wait()

	if peak.Load() > 3 {
		t.Errorf("Expected at most 3 concurrent checkouts, got %d", peak.Load())
	}
	if s := p.Stats(); s.Created > 3 {
		t.Errorf("Expected at most 3 connections, created %d", s.Created)
	}
}

func TestDegradedConnectionNotReused(t *testing.T) {
	cases := []struct {
		name string
		max  int
	}{
		{"saturated", 1},
		{"free_capacity", 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testPoolConfig()
			cfg.MaxConnections = tc.max
			fail := &atomic.Bool{}
			p, endpoint := newTestPool(t, cfg, fail)
			ctx := context.Background()

			c1, err := p.Acquire(ctx, endpoint)
			if err != nil {
				t.Fatalf("Acquire failed: %v", err)
			}

			fail.Store(true)
			for i := 0; i < 4; i++ {
				if _, err := c1.Exchange(ctx, []byte("x")); err == nil {
					t.Fatal("Expected exchange to fail")
				}
			}
			fail.Store(false)
			if h := c1.HealthScore(); h > 0.2 {
				t.Fatalf("Expected health <= 0.2 after 4 failures, got %f", h)
			}
			p.Release(c1)

			c2, err := p.Acquire(ctx, endpoint)
			if err != nil {
				t.Fatalf("Acquire failed: %v", err)
			}
			if c2 == c1 {
				t.Fatal("Expected a new connection instead of the degraded one")
			}
			if s := p.Stats(); s.Created != 2 {
				t.Errorf("Expected 2 created connections, got %d", s.Created)
			}
			if tc.max == 1 {
				if p.Stats().Retired != 1 || c1.State() != conn.StateClosed {
					t.Errorf("Expected the degraded connection to be retired, state %s", c1.State())
				}
			}
		})
	}
}

func TestConnectFailurePropagates(t *testing.T) {
	p, _ := newTestPool(t, testPoolConfig(), nil)

	_, err := p.Acquire(context.Background(), "no-such-endpoint")
	if !errors.Is(err, common.ErrConnectionUnavailable) {
		t.Fatalf("Expected ConnectionUnavailable, got %v", err)
	}
	if s := p.Stats(); s.Failed != 1 || s.Active != 0 || s.Creating != 0 {
		t.Errorf("Unexpected stats after failure: %+v", s)
	}
}

func TestSweepRespectsMin(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaxConnections = 3
	cfg.MinConnections = 1
	cfg.IdleTimeout = 10 * time.Millisecond
	p, endpoint := newTestPool(t, cfg, nil)

	var conns []*conn.Connection
	for i := 0; i < 3; i++ {
		c, err := p.Acquire(context.Background(), endpoint)
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		conns = append(conns, c)
	}
	for _, c := range conns {
		p.Release(c)
	}

	if n := p.Sweep(); n != 0 {
		t.Errorf("Expected fresh connections to survive the sweep, closed %d", n)
	}
	time.Sleep(20 * time.Millisecond)
	if n := p.Sweep(); n != 2 {
		t.Errorf("Expected 2 closed connections, got %d", n)
	}
	if s := p.Stats(); s.Active != 1 || s.Available != 1 || s.Swept != 2 {
		t.Errorf("Unexpected stats after sweep: %+v", s)
	}
	if n := p.Sweep(); n != 0 {
		t.Errorf("Sweep dropped below the minimum, closed %d", n)
	}
}

func TestSweepLoop(t *testing.T) {
	cfg := testPoolConfig()
	cfg.IdleTimeout = 5 * time.Millisecond
	cfg.SweepInterval = 10 * time.Millisecond
	p, endpoint := newTestPool(t, cfg, nil)

	c, err := p.Acquire(context.Background(), endpoint)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	p.Release(c)

	deadline := time.Now().Add(2 * time.Second)
	for p.Stats().Active != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Stats().Active != 0 {
		t.Error("Expected the background sweep to close the idle connection")
	}
}

func TestReuseLimit(t *testing.T) {
	cfg := testPoolConfig()
	cfg.ReuseLimit = 2
	p, endpoint := newTestPool(t, cfg, nil)
	ctx := context.Background()

	c1, _ := p.Acquire(ctx, endpoint)
	p.Release(c1)
	c2, _ := p.Acquire(ctx, endpoint)
	if c2 != c1 {
		t.Fatal("Expected reuse below the limit")
	}
	p.Release(c2) // second use reaches the limit

	c3, err := p.Acquire(ctx, endpoint)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if c3 == c1 {
		t.Error("Expected a fresh connection after the reuse limit")
	}
	if c1.State() != conn.StateClosed {
		t.Errorf("Expected used up connection to be closed, got %s", c1.State())
	}
}

func TestReleaseBrokenLink(t *testing.T) {
	cfg := testPoolConfig()
	p := New(cfg, nil)
	defer p.Close()

	srv := startEchoServer(t)
	p.dial = func(endpoint string, registry gometrics.Registry) *conn.Connection {
		return conn.New(conn.Params{
			Endpoint: endpoint,
			Factory:  func() transport.ITransport { return mem.NewMemClientTransport(common.TransportConfig{}) },
			Config:   common.ConnectionConfig{MaxAttempts: 1, ConnectTimeout: time.Second, KeepaliveInterval: time.Hour},
			Registry: registry,
		})
	}

	c, err := p.Acquire(context.Background(), srv.Addr())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	_ = srv.Close()

	deadline := time.Now().Add(time.Second)
	for c.IsHealthy() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	p.Release(c)
	if s := p.Stats(); s.Active != 0 || s.Retired != 1 {
		t.Errorf("Expected broken connection to be retired: %+v", s)
	}
}

func TestClose(t *testing.T) {
	p, endpoint := newTestPool(t, testPoolConfig(), nil)

	c, err := p.Acquire(context.Background(), endpoint)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if c.State() != conn.StateClosed {
		t.Errorf("Expected checked out connection to be closed, got %s", c.State())
	}
	if _, err := p.Acquire(context.Background(), endpoint); !errors.Is(err, common.ErrConnectionUnavailable) {
		t.Errorf("Expected acquire on closed pool to fail, got %v", err)
	}
	p.Release(c) // must not panic
}

package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ValentinKolb/dMux/lib/cache"
	"github.com/ValentinKolb/dMux/lib/crypto"
	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/ValentinKolb/dMux/rpc/conn"
	"github.com/ValentinKolb/dMux/rpc/pool"
	"github.com/ValentinKolb/dMux/rpc/serializer"
	"github.com/ValentinKolb/dMux/rpc/session"
	"github.com/ValentinKolb/dMux/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/errgroup"
)

var Logger = logger.GetLogger("client")

// Client is the runtime context of dMux. It owns the connection pool, the
// result cache, the crypto pool and one session per endpoint, and is the
// single place that creates and tears them down.
type Client struct {
	config     common.ClientConfig
	factory    transport.Factory
	serializer serializer.IRPCSerializer

	pool     *pool.Pool
	cache    *cache.Cache[*common.Message]
	crypto   *crypto.Pool
	sessions *xsync.MapOf[string, *session.Session]

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
}

// NewClient creates the runtime context for config. Disabled features (cache,
// crypto, batching) are left out. Nothing is dialed before Start.
//
// Usage:
//
//	factory, _ := client.NewTransportFactory(cfg.Transport)
//	c, err := client.NewClient(cfg, factory, serializer.NewBinarySerializer())
//	if err != nil {
//		return err
//	}
//	if err := c.Start(ctx); err != nil {
//		return err
//	}
//	defer c.Stop(context.Background())
//
//	resp, err := c.Send(ctx, "", common.NewRequest("users.getMe", nil))
func NewClient(config common.ClientConfig, factory transport.Factory, s serializer.IRPCSerializer) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, fmt.Errorf("no transport factory")
	}
	if s == nil {
		s = serializer.NewBinarySerializer()
	}

	c := &Client{
		config:     config,
		factory:    factory,
		serializer: s,
		sessions:   xsync.NewMapOf[string, *session.Session](),
	}

	if config.Crypto.Enabled {
		p, err := crypto.NewPool(config.Crypto)
		if err != nil {
			return nil, fmt.Errorf("failed to create crypto pool: %w", err)
		}
		c.crypto = p
	}

	if config.Cache.Enabled {
		c.cache = cache.New[*common.Message](config.Cache.MaxSize, config.Cache.TTL, (*common.Message).Clone)
	}

	ping, err := c.pingFrame()
	if err != nil {
		return nil, err
	}
	c.pool = pool.New(config.Pool, func(endpoint string, registry gometrics.Registry) *conn.Connection {
		return conn.New(conn.Params{
			Endpoint:  endpoint,
			Factory:   c.factory,
			Config:    c.config.Connection,
			PingFrame: ping,
			Registry:  registry,
		})
	})

	Logger.Debugf("Created client:%s", config.String())
	return c, nil
}

// pingFrame encodes (and seals) the keepalive ping once
func (c *Client) pingFrame() ([]byte, error) {
	ping, err := c.serializer.Serialize(*common.NewPing())
	if err != nil {
		return nil, fmt.Errorf("failed to encode ping: %w", err)
	}
	if c.crypto == nil {
		return ping, nil
	}
	sealed, err := c.crypto.Seal(context.Background(), ping)
	if err != nil {
		// the none backend cannot seal, keepalives are then sent in the clear
		Logger.Warningf("Failed to seal keepalive ping: %v", err)
		return ping, nil
	}
	return sealed, nil
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Start starts the sessions created so far and dials MinConnections
// connections to the configured endpoint. Dial failures are logged, the
// pool retries on the first request.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return common.NewError(common.CodeConnectionUnavailable, nil, "client stopped")
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	var errs []error
	c.sessions.Range(func(_ string, s *session.Session) bool {
		if err := s.Start(c.ctx); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if c.config.Endpoint != "" && c.config.Pool.MinConnections > 0 {
		if err := c.warmUp(ctx, c.config.Endpoint, c.config.Pool.MinConnections); err != nil {
			Logger.Warningf("Failed to dial %d connections to %s: %v", c.config.Pool.MinConnections, c.config.Endpoint, err)
		}
	}

	Logger.Infof("Client started (endpoint %s, transport %s)", c.config.Endpoint, c.config.Transport.Type)
	return nil
}

// warmUp checks out n connections to endpoint at once so that the pool has
// to dial them, then checks them all in again
func (c *Client) warmUp(ctx context.Context, endpoint string, n int) error {
	conns := make([]*conn.Connection, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := range conns {
		g.Go(func() error {
			cn, err := c.pool.Acquire(gctx, endpoint)
			conns[i] = cn
			return err
		})
	}
	err := g.Wait()
	for _, cn := range conns {
		if cn != nil {
			c.pool.Release(cn)
		}
	}
	return err
}

// Stop stops every session, then closes the pool. It returns once everything
// is joined or ctx expires.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	started := c.started
	c.mu.Unlock()

	var mu sync.Mutex
	var errs []error
	var wg conc.WaitGroup
	c.sessions.Range(func(_ string, s *session.Session) bool {
		wg.Go(func() {
			if err := s.Stop(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
		return true
	})
	wg.Wait()

	if started {
		c.cancel()
	}
	if err := c.pool.Close(); err != nil {
		errs = append(errs, err)
	}

	Logger.Infof("Client stopped:%s", c.Metrics().String())
	if c.cache != nil {
		c.cache.Close()
	}
	return errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Sessions
// --------------------------------------------------------------------------

// Session returns the session of endpoint (the configured endpoint if empty),
// creating it on first use. Sessions created after Start are started
// immediately.
func (c *Client) Session(endpoint string) (*session.Session, error) {
	if endpoint == "" {
		endpoint = c.config.Endpoint
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil, common.NewError(common.CodeConnectionUnavailable, nil, "client stopped")
	}

	s, loaded := c.sessions.LoadOrCompute(endpoint, func() *session.Session {
		return session.New(endpoint, c.config, c.deps())
	})
	if !loaded && c.started {
		if err := s.Start(c.ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Send sends req through the session of endpoint
func (c *Client) Send(ctx context.Context, endpoint string, req *common.Message) (*common.Message, error) {
	s, err := c.Session(endpoint)
	if err != nil {
		return nil, err
	}
	return s.Send(ctx, req)
}

// deps wires the shared collaborators into a session. Nil pointers must not
// end up as non-nil interfaces.
func (c *Client) deps() session.Deps {
	d := session.Deps{Pool: c.pool, Serializer: c.serializer}
	if c.cache != nil {
		d.Cache = c.cache
	}
	if c.crypto != nil {
		d.Crypto = c.crypto
	}
	return d
}

// Pool returns the connection pool
func (c *Client) Pool() *pool.Pool {
	return c.pool
}

// Config returns the configuration of the client
func (c *Client) Config() common.ClientConfig {
	return c.config
}

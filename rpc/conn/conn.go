package conn

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dMux/lib/util"
	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/ValentinKolb/dMux/rpc/transport"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/sourcegraph/conc"
)

var Logger = logger.GetLogger("conn")

const (
	// DegradedScore is the health score below which a connection counts as degraded
	DegradedScore = 0.3

	qualityGain  = 1.01
	qualityLoss  = 0.8
	qualityFloor = 0.1

	maxErrorPenalty     = 0.5
	errorPenaltyStep    = 0.1
	stalenessStart      = 5 * time.Minute
	stalenessFull       = 30 * time.Minute
	maxStalenessPenalty = 0.3

	// connects faster than fastConnect shrink the adaptive connect timeout
	fastConnect       = 5 * time.Second
	minConnectTimeout = 5 * time.Second
)

// Params are the construction parameters of a Connection
type Params struct {
	// Endpoint is the address handed to the transport
	Endpoint string
	// Factory creates one transport per connect attempt
	Factory transport.Factory
	Config  common.ConnectionConfig
	// PingFrame is the body of keepalive pings
	PingFrame []byte
	// Registry receives the throughput meters of the connection (optional)
	Registry gometrics.Registry
}

type result struct {
	data []byte
	err  error
}

// Connection is a single transport level link to one endpoint. Requests are
// multiplexed over the link by a request id envelope, a reader goroutine
// matches answers to waiting exchanges.
type Connection struct {
	id        string
	endpoint  string
	factory   transport.Factory
	config    common.ConnectionConfig
	pingFrame []byte

	mu                sync.Mutex
	tr                transport.ITransport
	connecting        bool
	closed            bool
	healthy           bool
	everConnected     bool
	keepaliveStarted  bool
	quality           float64
	consecutiveErrors int
	bytesSent         uint64
	bytesReceived     uint64
	requestCount      uint64
	errorCount        uint64
	createdAt         time.Time
	connectedAt       time.Time
	lastActivity      time.Time
	lastPing          time.Time
	connectTimeout    time.Duration

	pending *xsync.MapOf[uint64, chan result]
	nextID  atomic.Uint64
	done    chan struct{}
	tasks   conc.WaitGroup

	registry  gometrics.Registry
	sentMeter gometrics.Meter
	recvMeter gometrics.Meter
	latency   gometrics.Histogram

	now func() time.Time
}

// New creates a new, unconnected connection
func New(p Params) *Connection {
	registry := p.Registry
	if registry == nil {
		registry = gometrics.NewRegistry()
	}

	id := uuid.NewString()
	c := &Connection{
		id:             id,
		endpoint:       p.Endpoint,
		factory:        p.Factory,
		config:         p.Config,
		pingFrame:      p.PingFrame,
		quality:        1.0,
		createdAt:      time.Now(),
		connectTimeout: p.Config.ConnectTimeout,
		pending:        xsync.NewMapOf[uint64, chan result](),
		done:           make(chan struct{}),
		registry:       registry,
		sentMeter:      gometrics.GetOrRegisterMeter(metricName(id, "sent"), registry),
		recvMeter:      gometrics.GetOrRegisterMeter(metricName(id, "received"), registry),
		latency:        gometrics.GetOrRegisterHistogram(metricName(id, "latency_us"), registry, gometrics.NewExpDecaySample(1028, 0.015)),
		now:            time.Now,
	}
	if c.connectTimeout <= 0 {
		c.connectTimeout = 15 * time.Second
	}
	if c.config.MaxConnectTimeout < c.connectTimeout {
		c.config.MaxConnectTimeout = c.connectTimeout
	}
	if c.config.MaxAttempts < 1 {
		c.config.MaxAttempts = 1
	}
	return c
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Connect establishes the link with up to MaxAttempts attempts. Every attempt
// gets the adaptive connect timeout grown by 50% per prior attempt, between
// attempts it sleeps an exponential backoff with jitter. Once all attempts
// failed the connection is marked unhealthy and ConnectionUnavailable is
// returned. Connect on a healthy connection is a no-op, a broken connection
// is re-established.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return common.NewError(common.CodeConnectionUnavailable, transport.ErrClosed, "connection %s", c.id)
	}
	if c.connecting {
		c.mu.Unlock()
		return common.NewError(common.CodeConnectionUnavailable, nil, "connection %s is already connecting", c.id)
	}
	if c.tr != nil && c.healthy {
		c.mu.Unlock()
		return nil
	}
	old := c.tr
	c.tr = nil
	c.connecting = true
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	var lastErr error
	attempts := c.config.MaxAttempts
	for attempt := 0; attempt < attempts; attempt++ {
		tr := c.factory()
		start := c.now()
		attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout(attempt))
		err := tr.Connect(attemptCtx, c.endpoint)
		cancel()

		if err == nil {
			if c.onConnected(tr, c.now().Sub(start)) {
				return nil
			}
			_ = tr.Close()
			return common.NewError(common.CodeConnectionUnavailable, transport.ErrClosed, "connection %s closed while connecting", c.id)
		}

		_ = tr.Close()
		lastErr = err
		c.recordError()
		Logger.Warningf("Connect attempt %d/%d to %s failed: %v", attempt+1, attempts, c.endpoint, err)

		if attempt == attempts-1 {
			break
		}
		if err := c.sleep(ctx, util.Backoff(c.config.BackoffBase, c.config.MaxBackoff, attempt)); err != nil {
			lastErr = err
			break
		}
	}

	c.mu.Lock()
	c.connecting = false
	c.healthy = false
	c.mu.Unlock()

	return common.NewError(common.CodeConnectionUnavailable, lastErr, "%s unreachable after %d attempts", c.endpoint, attempts)
}

// Close cancels the keepalive loop and the reader, waits for both to
// terminate and fails all pending exchanges. Close is idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.healthy = false
	close(c.done)
	tr := c.tr
	c.mu.Unlock()

	var err error
	if tr != nil {
		err = tr.Close()
	}
	c.tasks.Wait()
	c.failPending(common.NewError(common.CodeConnectionUnavailable, transport.ErrClosed, "connection %s", c.id))

	s := c.Summary()
	Logger.Infof("Closed connection %s to %s after %s: %d requests, %d errors, %d bytes sent, %d bytes received, quality %.2f",
		s.ID, s.Endpoint, time.Since(s.CreatedAt).Round(time.Millisecond), s.Requests, s.Errors, s.BytesSent, s.BytesReceived, s.Quality)

	for _, name := range []string{"sent", "received", "latency_us"} {
		c.registry.Unregister(metricName(c.id, name))
	}
	return err
}

// --------------------------------------------------------------------------
// Exchange
// --------------------------------------------------------------------------

// Exchange sends body and waits for the answer carrying the same request id.
// A broken link fails with ConnectionUnavailable, the expiry of ctx with
// Timeout. Timeouts are not counted as connection errors, a slow link is not
// a broken one.
func (c *Connection) Exchange(ctx context.Context, body []byte) ([]byte, error) {
	tr, err := c.transport()
	if err != nil {
		return nil, err
	}

	id := c.nextID.Add(1)
	ch := make(chan result, 1)
	c.pending.Store(id, ch)
	defer c.pending.Delete(id)

	frame := common.SealEnvelope(id, body)
	start := c.now()
	if err := tr.Send(frame); err != nil {
		c.recordError()
		return nil, common.NewError(common.CodeConnectionUnavailable, err, "send to %s", c.endpoint)
	}
	c.recordSent(len(frame))

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		c.recordReceived(len(r.data)+common.EnvelopeHeaderSize, c.now().Sub(start))
		return r.data, nil
	case <-ctx.Done():
		return nil, common.NewError(common.CodeTimeout, ctx.Err(), "exchange with %s", c.endpoint)
	case <-c.done:
		return nil, common.NewError(common.CodeConnectionUnavailable, transport.ErrClosed, "connection %s", c.id)
	}
}

// Ping sends a keepalive ping. The pong only refreshes the activity stamp.
func (c *Connection) Ping() error {
	tr, err := c.transport()
	if err != nil {
		return err
	}
	if err := tr.Send(common.SealEnvelope(common.KeepaliveID, c.pingFrame)); err != nil {
		c.recordError()
		return common.NewError(common.CodeConnectionUnavailable, err, "ping %s", c.endpoint)
	}
	c.mu.Lock()
	c.lastPing = c.now()
	c.mu.Unlock()
	return nil
}

// --------------------------------------------------------------------------
// Health
// --------------------------------------------------------------------------

// HealthScore combines quality, consecutive errors and staleness into [0,1].
// A connection that is not connected scores 0.
func (c *Connection) HealthScore() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthScoreLocked(c.now())
}

// State returns the lifecycle state of the connection
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(c.now())
}

// IsHealthy reports whether the link is up
func (c *Connection) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

// ID returns the unique id of the connection
func (c *Connection) ID() string { return c.id }

// Endpoint returns the endpoint the connection is bound to
func (c *Connection) Endpoint() string { return c.endpoint }

// LastActivity returns the time of the last successful exchange
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Touch stamps the activity time (used by the pool on release)
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastActivity = c.now()
	c.mu.Unlock()
}

// ConnectTimeout returns the current adaptive connect timeout
func (c *Connection) ConnectTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectTimeout
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *Connection) transport() (transport.ITransport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, common.NewError(common.CodeConnectionUnavailable, transport.ErrClosed, "connection %s", c.id)
	}
	if c.tr == nil || !c.healthy {
		return nil, common.NewError(common.CodeConnectionUnavailable, nil, "connection %s to %s is not connected", c.id, c.endpoint)
	}
	return c.tr, nil
}

// attemptTimeout returns the timeout of the given (zero based) connect attempt
func (c *Connection) attemptTimeout(attempt int) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return min(c.config.MaxConnectTimeout, util.ScaleDuration(c.connectTimeout, 1+0.5*float64(attempt)))
}

// onConnected installs tr and starts the background tasks. It returns false if
// the connection was closed in the meantime.
func (c *Connection) onConnected(tr transport.ITransport, took time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.connecting = false
		return false
	}

	now := c.now()
	c.tr = tr
	c.connecting = false
	c.healthy = true
	c.everConnected = true
	c.quality = 1.0
	c.consecutiveErrors = 0
	c.connectedAt = now
	c.lastActivity = now

	if took < fastConnect {
		c.connectTimeout = max(min(minConnectTimeout, c.config.ConnectTimeout), util.ScaleDuration(c.connectTimeout, 0.9))
	}

	// tasks are started under the lock so that Close cannot wait before they are added
	c.tasks.Go(func() { c.readLoop(tr) })
	if !c.keepaliveStarted && c.config.KeepaliveInterval > 0 {
		c.keepaliveStarted = true
		c.tasks.Go(c.keepaliveLoop)
	}

	Logger.Infof("Connection %s to %s established via %s in %s", c.id, c.endpoint, tr.Name(), took.Round(time.Microsecond))
	return true
}

// readLoop dispatches answers to the pending exchanges until the link breaks
func (c *Connection) readLoop(tr transport.ITransport) {
	for {
		frame, err := tr.Receive()
		if err != nil {
			c.onBroken(tr, err)
			return
		}

		id, body, err := common.OpenEnvelope(frame)
		if err != nil {
			Logger.Warningf("Dropping invalid frame from %s: %v", c.endpoint, err)
			continue
		}
		if id == common.KeepaliveID {
			c.Touch()
			continue
		}

		if ch, ok := c.pending.LoadAndDelete(id); ok {
			ch <- result{data: body}
		} else {
			Logger.Debugf("Dropping answer for unknown request %d from %s", id, c.endpoint)
		}
	}
}

func (c *Connection) onBroken(tr transport.ITransport, err error) {
	c.mu.Lock()
	if c.closed || c.tr != tr {
		c.mu.Unlock()
		return
	}
	c.healthy = false
	c.recordErrorLocked()
	c.mu.Unlock()

	if errors.Is(err, transport.ErrClosed) {
		Logger.Debugf("Connection %s to %s closed", c.id, c.endpoint)
	} else {
		Logger.Warningf("Connection %s to %s broken: %v", c.id, c.endpoint, err)
	}
	c.failPending(common.NewError(common.CodeConnectionUnavailable, err, "link to %s broken", c.endpoint))
}

func (c *Connection) failPending(err error) {
	c.pending.Range(func(id uint64, _ chan result) bool {
		if ch, ok := c.pending.LoadAndDelete(id); ok {
			ch <- result{err: err}
		}
		return true
	})
}

// keepaliveLoop pings the remote whenever the link was idle for a full interval
func (c *Connection) keepaliveLoop() {
	interval := c.config.KeepaliveInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			idle := c.now().Sub(c.lastActivity)
			up := c.healthy && c.tr != nil
			c.mu.Unlock()

			if up && idle >= interval {
				if err := c.Ping(); err != nil {
					Logger.Debugf("Keepalive of %s failed: %v", c.id, err)
				}
			}
		}
	}
}

func (c *Connection) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return transport.ErrClosed
	}
}

func (c *Connection) recordSent(n int) {
	c.sentMeter.Mark(int64(n))
	c.mu.Lock()
	c.bytesSent += uint64(n)
	c.requestCount++
	c.mu.Unlock()
}

func (c *Connection) recordReceived(n int, took time.Duration) {
	c.recvMeter.Mark(int64(n))
	c.latency.Update(took.Microseconds())
	c.mu.Lock()
	c.bytesReceived += uint64(n)
	c.quality = math.Min(1.0, c.quality*qualityGain)
	c.consecutiveErrors = 0
	c.lastActivity = c.now()
	c.mu.Unlock()
}

func (c *Connection) recordError() {
	c.mu.Lock()
	c.recordErrorLocked()
	c.mu.Unlock()
}

func (c *Connection) recordErrorLocked() {
	c.errorCount++
	c.consecutiveErrors++
	c.quality = math.Max(qualityFloor, c.quality*qualityLoss)
	if c.consecutiveErrors > 2 {
		c.connectTimeout = min(c.config.MaxConnectTimeout, util.ScaleDuration(c.connectTimeout, 1.5))
	}
}

func (c *Connection) healthScoreLocked(now time.Time) float64 {
	if !c.healthy {
		return 0
	}
	errorPenalty := math.Min(maxErrorPenalty, float64(c.consecutiveErrors)*errorPenaltyStep)
	score := c.quality - errorPenalty - stalenessPenalty(now.Sub(c.lastActivity))
	return math.Max(0, math.Min(1, score))
}

func (c *Connection) stateLocked(now time.Time) State {
	switch {
	case c.closed:
		return StateClosed
	case c.connecting:
		return StateConnecting
	case !c.everConnected && c.errorCount == 0:
		return StateNew
	case !c.healthy || c.healthScoreLocked(now) < DegradedScore:
		return StateDegraded
	default:
		return StateHealthy
	}
}

// stalenessPenalty grows linearly from 0 at 5 minutes idle to 0.3 at 30 minutes
func stalenessPenalty(idle time.Duration) float64 {
	if idle <= stalenessStart {
		return 0
	}
	frac := float64(idle-stalenessStart) / float64(stalenessFull-stalenessStart)
	return math.Min(maxStalenessPenalty, maxStalenessPenalty*frac)
}

func metricName(id, name string) string {
	return "conn." + id + "." + name
}

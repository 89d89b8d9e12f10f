package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/ValentinKolb/dMux/rpc/conn"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/sourcegraph/conc"
)

var Logger = logger.GetLogger("pool")

// DialFunc creates a new, unconnected connection to endpoint. Connections
// register their meters in the given registry.
type DialFunc func(endpoint string, registry gometrics.Registry) *conn.Connection

// entry is the pool bookkeeping of one active connection
type entry struct {
	c          *conn.Connection
	endpoint   string
	uses       int
	checkedOut bool
	lastUsed   time.Time
}

// Pool owns a bounded set of connections. A connection is either checked out
// by exactly one caller, checked in (available) or closed.
type Pool struct {
	config common.PoolConfig
	dial   DialFunc

	mu        sync.Mutex
	active    map[string]*entry // by connection id
	available []*entry          // checked in, oldest first
	creating  int               // connections being dialed, they count towards the limit
	notify    chan struct{}     // closed and replaced whenever capacity frees up
	closed    bool

	done  chan struct{}
	tasks conc.WaitGroup

	registry    gometrics.Registry
	acquireWait gometrics.Timer

	reused  atomic.Uint64
	created atomic.Uint64
	failed  atomic.Uint64
	waits   atomic.Uint64
	retired atomic.Uint64
	swept   atomic.Uint64
}

// Stats is a snapshot of the pool counters
type Stats struct {
	Reused    uint64
	Created   uint64
	Failed    uint64
	Waits     uint64
	Retired   uint64
	Swept     uint64
	Active    int
	Available int
	Creating  int
	// MeanWait is the mean time acquire spent waiting for capacity
	MeanWait time.Duration
}

// New creates a pool and starts its idle sweeper
func New(config common.PoolConfig, dial DialFunc) *Pool {
	if config.MaxConnections < 1 {
		config.MaxConnections = 1
	}
	if config.ReuseLimit < 1 {
		config.ReuseLimit = 100
	}
	if config.AcquirePoll <= 0 {
		config.AcquirePoll = 100 * time.Millisecond
	}

	registry := gometrics.NewRegistry()
	p := &Pool{
		config:      config,
		dial:        dial,
		active:      make(map[string]*entry),
		notify:      make(chan struct{}),
		done:        make(chan struct{}),
		registry:    registry,
		acquireWait: gometrics.GetOrRegisterTimer("pool.acquire_wait", registry),
	}

	if config.SweepInterval > 0 && config.IdleTimeout > 0 {
		p.tasks.Go(p.sweepLoop)
	}
	return p
}

// --------------------------------------------------------------------------
// Checkout
// --------------------------------------------------------------------------

// Acquire checks out a connection to endpoint. It reuses the healthiest
// checked-in connection of the endpoint (ties go to the most recently used),
// creates a new one while the pool is below its limit and otherwise waits
// until capacity frees up. A saturated pool retires a degraded or foreign
// idle connection to make room. Connection failures propagate to the caller,
// the expiry of ctx fails with Timeout.
func (p *Pool) Acquire(ctx context.Context, endpoint string) (*conn.Connection, error) {
	start := time.Now()
	waited := false
	defer func() {
		if waited {
			p.acquireWait.UpdateSince(start)
		}
	}()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, common.NewError(common.CodeConnectionUnavailable, nil, "pool closed")
		}

		if e := p.takeBestLocked(endpoint); e != nil {
			p.mu.Unlock()
			p.reused.Add(1)
			return e.c, nil
		}

		if len(p.active)+p.creating < p.config.MaxConnections {
			p.creating++
			p.mu.Unlock()
			return p.create(ctx, endpoint)
		}

		if victim := p.takeVictimLocked(endpoint); victim != nil {
			p.creating++
			p.mu.Unlock()
			p.retired.Add(1)
			Logger.Infof("Retiring connection %s to %s (health %.2f, %d uses) to make room for %s",
				victim.c.ID(), victim.endpoint, victim.c.HealthScore(), victim.uses, endpoint)
			_ = victim.c.Close()
			return p.create(ctx, endpoint)
		}

		wait := p.notify
		p.mu.Unlock()

		if !waited {
			waited = true
			p.waits.Add(1)
			Logger.Debugf("Pool saturated (%d connections), waiting for %s", p.config.MaxConnections, endpoint)
		}

		timer := time.NewTimer(p.config.AcquirePoll)
		select {
		case <-wait:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, common.NewError(common.CodeTimeout, ctx.Err(), "waiting for a connection to %s", endpoint)
		case <-p.done:
			timer.Stop()
			return nil, common.NewError(common.CodeConnectionUnavailable, nil, "pool closed")
		}
		timer.Stop()
	}
}

// Release checks a connection in. Broken links and connections that reached
// the reuse limit are closed instead.
func (p *Pool) Release(c *conn.Connection) {
	p.mu.Lock()
	e, ok := p.active[c.ID()]
	if !ok || !e.checkedOut {
		p.mu.Unlock()
		Logger.Warningf("Release of unknown or checked-in connection %s", c.ID())
		return
	}

	e.checkedOut = false
	e.lastUsed = time.Now()
	c.Touch()

	if !c.IsHealthy() || e.uses >= p.config.ReuseLimit {
		delete(p.active, c.ID())
		p.signalLocked()
		p.mu.Unlock()
		p.retired.Add(1)
		Logger.Debugf("Retiring connection %s after %d uses (link up: %t)", c.ID(), e.uses, c.IsHealthy())
		_ = c.Close()
		return
	}

	p.available = append(p.available, e)
	p.signalLocked()
	p.mu.Unlock()
}

// Uses returns how often the connection was checked out (0 if unknown)
func (p *Pool) Uses(c *conn.Connection) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.active[c.ID()]; ok {
		return e.uses
	}
	return 0
}

// --------------------------------------------------------------------------
// Maintenance
// --------------------------------------------------------------------------

// Sweep closes checked-in connections idle for longer than the idle timeout
// without dropping below the minimum number of connections. It returns the
// number of closed connections.
func (p *Pool) Sweep() int {
	p.mu.Lock()
	now := time.Now()
	var victims []*entry
	keep := p.available[:0]
	for _, e := range p.available {
		if len(p.active) > p.config.MinConnections && now.Sub(e.lastUsed) > p.config.IdleTimeout {
			delete(p.active, e.c.ID())
			victims = append(victims, e)
			continue
		}
		keep = append(keep, e)
	}
	clear(p.available[len(keep):])
	p.available = keep
	if len(victims) > 0 {
		p.signalLocked()
	}
	p.mu.Unlock()

	for _, e := range victims {
		Logger.Debugf("Closing idle connection %s to %s", e.c.ID(), e.endpoint)
		_ = e.c.Close()
	}
	p.swept.Add(uint64(len(victims)))
	return len(victims)
}

// Health returns the best health score among the connections to endpoint.
// ok is false if the pool holds no connection to it.
func (p *Pool) Health(endpoint string) (score float64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.active {
		if e.endpoint != endpoint {
			continue
		}
		if h := e.c.HealthScore(); !ok || h > score {
			score = h
		}
		ok = true
	}
	return score, ok
}

// Connections returns a summary of every active connection
func (p *Pool) Connections() []conn.Summary {
	p.mu.Lock()
	conns := make([]*conn.Connection, 0, len(p.active))
	for _, e := range p.active {
		conns = append(conns, e.c)
	}
	p.mu.Unlock()

	summaries := make([]conn.Summary, len(conns))
	for i, c := range conns {
		summaries[i] = c.Summary()
	}
	return summaries
}

// Registry returns the metrics registry of the pool and its connections
func (p *Pool) Registry() gometrics.Registry {
	return p.registry
}

// Stats returns a snapshot of the pool counters
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	active, available, creating := len(p.active), len(p.available), p.creating
	p.mu.Unlock()

	return Stats{
		Reused:    p.reused.Load(),
		Created:   p.created.Load(),
		Failed:    p.failed.Load(),
		Waits:     p.waits.Load(),
		Retired:   p.retired.Load(),
		Swept:     p.swept.Load(),
		Active:    active,
		Available: available,
		Creating:  creating,
		MeanWait:  time.Duration(p.acquireWait.Mean()),
	}
}

// Close stops the sweeper and closes all connections, checked out ones included
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	entries := make([]*entry, 0, len(p.active))
	for _, e := range p.active {
		entries = append(entries, e)
	}
	p.active = make(map[string]*entry)
	p.available = nil
	p.mu.Unlock()

	p.tasks.Wait()

	var wg conc.WaitGroup
	for _, e := range entries {
		wg.Go(func() { _ = e.c.Close() })
	}
	wg.Wait()

	Logger.Infof("Pool closed: %d connections created, %d reused, %d retired, %d swept",
		p.created.Load(), p.reused.Load(), p.retired.Load(), p.swept.Load())
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// create dials a new connection, the caller has reserved a slot in p.creating
func (p *Pool) create(ctx context.Context, endpoint string) (*conn.Connection, error) {
	c := p.dial(endpoint, p.registry)
	err := c.Connect(ctx)

	p.mu.Lock()
	p.creating--
	if err != nil || p.closed {
		p.signalLocked()
		closed := p.closed
		p.mu.Unlock()
		_ = c.Close()
		if err == nil && closed {
			err = common.NewError(common.CodeConnectionUnavailable, nil, "pool closed")
		}
		p.failed.Add(1)
		return nil, err
	}

	p.active[c.ID()] = &entry{
		c:          c,
		endpoint:   endpoint,
		uses:       1,
		checkedOut: true,
		lastUsed:   time.Now(),
	}
	p.mu.Unlock()
	p.created.Add(1)
	return c, nil
}

// takeBestLocked checks out the healthiest reusable connection of endpoint
func (p *Pool) takeBestLocked(endpoint string) *entry {
	best, bestScore := -1, 0.0
	for i, e := range p.available {
		if e.endpoint != endpoint || e.uses >= p.config.ReuseLimit {
			continue
		}
		score := e.c.HealthScore()
		if score < p.config.DegradedThreshold {
			continue
		}
		if best < 0 || score > bestScore || (score == bestScore && e.lastUsed.After(p.available[best].lastUsed)) {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return nil
	}

	e := p.removeAvailableLocked(best)
	e.checkedOut = true
	e.uses++
	e.lastUsed = time.Now()
	return e
}

// takeVictimLocked removes a checked-in connection that may be retired to
// make room for endpoint: a degraded or used up one of the same endpoint,
// else the least recently used one of another endpoint.
func (p *Pool) takeVictimLocked(endpoint string) *entry {
	victim := -1
	for i, e := range p.available {
		if e.endpoint == endpoint && (e.uses >= p.config.ReuseLimit || e.c.HealthScore() < p.config.DegradedThreshold) {
			victim = i
			break
		}
	}
	if victim < 0 {
		for i, e := range p.available {
			if e.endpoint != endpoint {
				victim = i
				break
			}
		}
	}
	if victim < 0 {
		return nil
	}

	e := p.removeAvailableLocked(victim)
	delete(p.active, e.c.ID())
	return e
}

func (p *Pool) removeAvailableLocked(i int) *entry {
	e := p.available[i]
	copy(p.available[i:], p.available[i+1:])
	p.available[len(p.available)-1] = nil
	p.available = p.available[:len(p.available)-1]
	return e
}

// signalLocked wakes all waiters of Acquire
func (p *Pool) signalLocked() {
	close(p.notify)
	p.notify = make(chan struct{})
}

func (p *Pool) sweepLoop() {
	ticker := time.NewTicker(p.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if n := p.Sweep(); n > 0 {
				Logger.Infof("Idle sweep closed %d connections", n)
			}
		}
	}
}

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ValentinKolb/dMux/lib/util"
	"github.com/ValentinKolb/dMux/rpc/batch"
	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/ValentinKolb/dMux/rpc/serializer"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sourcegraph/conc"
)

var Logger = logger.GetLogger("session")

// Deps are the collaborators of a session
type Deps struct {
	Pool IPool
	// Cache is optional, nil disables result caching
	Cache ICache
	// Crypto is optional, nil sends frames in the clear
	Crypto ICrypto
	// Serializer encodes messages for the wire (binary if nil)
	Serializer serializer.IRPCSerializer
}

// Session is the façade through which all requests to one endpoint are sent.
// Per call it consults the cache, classifies the request, batches or
// dispatches it by priority, bounds it by the adaptive timeout and updates
// metrics and the error backoff table.
type Session struct {
	id       string
	endpoint string
	config   common.ClientConfig
	deps     Deps
	codec    serializer.IRPCSerializer // canonical encoding for cache keys
	batcher  *batch.Batcher

	// tuning
	tuneMu      sync.Mutex
	waitTarget  time.Duration
	floodEvents []time.Time
	latencies   *util.LatencyWindow
	backoff     *xsync.MapOf[string, time.Duration]

	// dispatch
	queue *dispatchQueue

	// lifecycle
	stateMu   sync.Mutex
	started   bool
	stopped   bool
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	tasks     conc.WaitGroup

	metrics *sessionMetrics
}

// New creates a session for endpoint. It must be started before use.
func New(endpoint string, config common.ClientConfig, deps Deps) *Session {
	if deps.Serializer == nil {
		deps.Serializer = serializer.NewBinarySerializer()
	}
	sc := config.Session
	if sc.MaxInFlight < 1 {
		sc.MaxInFlight = 1
	}
	if sc.LatencyWindow < 1 {
		sc.LatencyWindow = 100
	}
	if sc.MaxTimeout < sc.BaseTimeout {
		sc.MaxTimeout = sc.BaseTimeout
	}
	config.Session = sc

	s := &Session{
		id:         uuid.NewString(),
		endpoint:   endpoint,
		config:     config,
		deps:       deps,
		codec:      serializer.NewBinarySerializer(),
		waitTarget: sc.BaseTimeout,
		latencies:  util.NewLatencyWindow(sc.LatencyWindow),
		backoff:    xsync.NewMapOf[string, time.Duration](),
		queue:      newDispatchQueue(sc.QueueSize),
	}
	s.metrics = newSessionMetrics(s)

	if config.Batch.Enabled {
		s.batcher = batch.New(config.Batch, s.exchange, s.AdaptiveTimeout)
	}
	return s
}

// ID returns the unique id of the session
func (s *Session) ID() string { return s.id }

// Endpoint returns the endpoint all requests of the session are sent to
func (s *Session) Endpoint() string { return s.endpoint }

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Start launches the dispatch workers, the health monitor and (if enabled)
// the performance report. The background tasks end with Stop or with ctx.
func (s *Session) Start(ctx context.Context) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.stopped {
		return common.NewError(common.CodeConnectionUnavailable, nil, "session %s was stopped", s.id)
	}
	if s.started {
		return nil
	}
	s.started = true
	s.startedAt = time.Now()
	s.ctx, s.cancel = context.WithCancel(ctx)

	for i := 0; i < s.config.Session.MaxInFlight; i++ {
		s.tasks.Go(s.dispatchWorker)
	}
	if s.config.Session.HealthInterval > 0 {
		s.tasks.Go(s.healthMonitor)
	}
	if s.config.Metrics.Enabled && s.config.Metrics.PerformanceLogging && s.config.Metrics.ReportInterval > 0 {
		s.tasks.Go(s.reportLoop)
	}

	Logger.Infof("Session %s for %s started (%d dispatch workers, batching %t, caching %t, crypto %t)",
		s.id, s.endpoint, s.config.Session.MaxInFlight, s.batcher != nil, s.deps.Cache != nil, s.deps.Crypto != nil)
	return nil
}

// Stop flushes the pending batch, cancels the background tasks and waits for
// them. Queued requests that were not dispatched yet fail with
// ConnectionUnavailable. If ctx expires first, Stop returns a Timeout error
// while the shutdown continues in the background.
func (s *Session) Stop(ctx context.Context) error {
	s.stateMu.Lock()
	if s.stopped {
		s.stateMu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.stateMu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if s.batcher != nil {
			s.batcher.Stop()
		}
		if started {
			s.cancel()
			s.tasks.Wait()
		}
		s.queue.drain(common.NewError(common.CodeConnectionUnavailable, nil, "session %s stopped", s.id))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return common.NewError(common.CodeTimeout, ctx.Err(), "stopping session %s", s.id)
	}

	Logger.Infof("Session %s stopped:\n%s", s.id, s.Metrics().String())
	return nil
}

// --------------------------------------------------------------------------
// Send
// --------------------------------------------------------------------------

// Send sends one request and returns its answer. Every failure is one of the
// common error kinds. The session never retries a failed call, callers may
// use WaitRetry to honor the backoff before trying again.
func (s *Session) Send(ctx context.Context, req *common.Message) (*common.Message, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if req == nil || req.MsgType != common.MsgTRequest {
		return nil, common.NewError(common.CodeRemoteError, nil, "only requests can be sent")
	}

	start := time.Now()
	s.metrics.requestsSent.Inc()

	// fail before the cache and batch split, a batch would only find out at flush
	if s.deps.Crypto != nil {
		if err := s.deps.Crypto.Available(); err != nil {
			s.onError(req, err)
			return nil, err
		}
	}

	// the timeout is computed once per call, before dispatch
	ctx, cancel := context.WithTimeout(ctx, s.AdaptiveTimeout())
	defer cancel()

	var key string
	cacheable := s.deps.Cache != nil && common.IsCacheable(req.Method, s.config.Cache.Methods)
	if cacheable {
		key = s.cacheKey(req)
		if cached, ok := s.deps.Cache.Get(key); ok {
			s.metrics.cacheHits.Inc()
			return cached, nil
		}
	}

	var resp *common.Message
	var err error
	if s.batcher != nil && common.IsBatchable(req.Method) {
		s.metrics.batched.Inc()
		resp, err = s.sendBatched(ctx, req)
	} else {
		resp, err = s.sendImmediate(ctx, req)
	}

	took := time.Since(start)
	if err != nil {
		s.onError(req, err)
		return nil, err
	}

	s.latencies.Add(took)
	s.metrics.responsesReceived.Inc()
	s.metrics.latency.Update(took.Seconds())
	if s.config.Metrics.PerformanceLogging && s.config.Metrics.SlowThreshold > 0 && took > s.config.Metrics.SlowThreshold {
		Logger.Warningf("Slow request %s to %s took %s", req.Method, s.endpoint, took.Round(time.Millisecond))
	}

	if cacheable {
		s.deps.Cache.Set(key, resp)
	}
	return resp, nil
}

// sendBatched submits req to the batcher and waits for its result. A caller
// that gives up abandons its slot, the rest of the batch is not affected.
func (s *Session) sendBatched(ctx context.Context, req *common.Message) (*common.Message, error) {
	select {
	case res := <-s.batcher.Submit(req.Clone()):
		return res.Msg, res.Err
	case <-ctx.Done():
		return nil, common.NewError(common.CodeTimeout, ctx.Err(), "batched %s", req.Method)
	}
}

// exchange performs one wire exchange: encode, seal, acquire a connection,
// exchange, release, open and decode. Error and flood wait answers to a bare
// request are returned as errors, containers are returned as they are.
func (s *Session) exchange(ctx context.Context, msg *common.Message) (*common.Message, error) {
	body, err := s.deps.Serializer.Serialize(*msg)
	if err != nil {
		return nil, common.NewError(common.CodeRemoteError, err, "encode %s", msg.MsgType)
	}
	if s.deps.Crypto != nil {
		if body, err = s.deps.Crypto.Seal(ctx, body); err != nil {
			return nil, cryptoError(err, common.CodeCryptoUnavailable, "seal")
		}
	}

	c, err := s.deps.Pool.Acquire(ctx, s.endpoint)
	if err != nil {
		return nil, err
	}
	raw, err := c.Exchange(ctx, body)
	s.deps.Pool.Release(c)
	if err != nil {
		return nil, err
	}

	if s.deps.Crypto != nil {
		if raw, err = s.deps.Crypto.Open(ctx, raw); err != nil {
			return nil, cryptoError(err, common.CodeRemoteError, "open answer")
		}
	}

	resp := &common.Message{}
	if err := s.deps.Serializer.Deserialize(raw, resp); err != nil {
		return nil, common.NewError(common.CodeRemoteError, err, "malformed answer from %s", s.endpoint)
	}
	if !resp.IsContainer() {
		if err := resp.AsError(); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// cryptoError maps errors of the crypto collaborator to an error kind. Errors
// that already carry a kind are kept, context errors become timeouts and
// anything else gets code.
func cryptoError(err error, code common.ErrCode, what string) error {
	var e *common.Error
	switch {
	case errors.As(err, &e):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return common.NewError(common.CodeTimeout, err, "%s", what)
	default:
		return common.NewError(code, err, "%s", what)
	}
}

// cacheKey derives the key from the complete canonical request
func (s *Session) cacheKey(req *common.Message) string {
	data, err := s.codec.Serialize(*req)
	if err != nil {
		return ""
	}
	return string(data)
}

func (s *Session) ready() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	switch {
	case s.stopped:
		return common.NewError(common.CodeConnectionUnavailable, nil, "session %s stopped", s.id)
	case !s.started:
		return common.NewError(common.CodeConnectionUnavailable, nil, "session %s not started", s.id)
	case s.ctx.Err() != nil:
		return common.NewError(common.CodeConnectionUnavailable, s.ctx.Err(), "session %s", s.id)
	}
	return nil
}

// onError updates metrics, the error backoff table and the flood tracking
func (s *Session) onError(req *common.Message, err error) {
	s.metrics.errors.Inc()
	if isTimeout(err) {
		s.metrics.timeouts.Inc()
	}
	s.bumpBackoff(common.Category(err))
	if errors.Is(err, common.ErrRemoteOverload) {
		s.onFlood(common.RetryAfter(err))
	}
	Logger.Debugf("Request %s to %s failed: %v", req.Method, s.endpoint, err)
}

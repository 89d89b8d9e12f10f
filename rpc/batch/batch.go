package batch

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/ValentinKolb/dMux/rpc/serializer"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/sourcegraph/conc"
)

var Logger = logger.GetLogger("batch")

// ExchangeFunc performs one wire exchange
type ExchangeFunc func(ctx context.Context, msg *common.Message) (*common.Message, error)

// Result is the outcome of one batched request
type Result struct {
	Msg *common.Message
	Err error
}

type member struct {
	msg    *common.Message
	result chan Result
}

type batch struct {
	created time.Time
	members []member
	timer   *time.Timer
}

// Stats are the counters of a batcher
type Stats struct {
	Requests      uint64
	Batches       uint64
	SizeFlushes   uint64
	AgeFlushes    uint64
	FailedFlushes uint64
}

// MeanSize returns the mean number of requests per flushed batch
func (s Stats) MeanSize() float64 {
	if s.Batches == 0 {
		return 0
	}
	return float64(s.Requests) / float64(s.Batches)
}

// Batcher collects requests and sends them as one container exchange once
// MaxSize requests are collected or the oldest one waited MaxWait.
type Batcher struct {
	config   common.BatchConfig
	exchange ExchangeFunc
	timeout  func() time.Duration
	codec    serializer.IRPCSerializer

	mu      sync.Mutex
	current *batch
	stopped bool
	flushes conc.WaitGroup

	requests    atomic.Uint64
	batches     atomic.Uint64
	sizeFlushes atomic.Uint64
	ageFlushes  atomic.Uint64
	failed      atomic.Uint64
}

// New creates a batcher. timeout is called before every flush and bounds
// the exchange of the batch.
func New(config common.BatchConfig, exchange ExchangeFunc, timeout func() time.Duration) *Batcher {
	if config.MaxSize < 1 {
		config.MaxSize = 1
	}
	if config.MaxWait <= 0 {
		config.MaxWait = 100 * time.Millisecond
	}
	return &Batcher{
		config:   config,
		exchange: exchange,
		timeout:  timeout,
		codec:    serializer.NewBinarySerializer(),
	}
}

// Submit adds msg to the current batch. The returned channel receives exactly
// one result and is buffered, a caller that gives up never blocks the flush.
func (b *Batcher) Submit(msg *common.Message) <-chan Result {
	ch := make(chan Result, 1)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		ch <- Result{Err: common.NewError(common.CodeBatchExchangeFailed, nil, "batcher stopped")}
		return ch
	}

	if b.current == nil {
		cur := &batch{created: time.Now()}
		cur.timer = time.AfterFunc(b.config.MaxWait, func() { b.flushStale(cur) })
		b.current = cur
	}
	b.current.members = append(b.current.members, member{msg: msg, result: ch})
	b.requests.Add(1)

	if len(b.current.members) >= b.config.MaxSize {
		full := b.current
		b.current = nil
		full.timer.Stop()
		b.sizeFlushes.Add(1)
		b.flushes.Go(func() { b.flush(full) })
	}
	return ch
}

// Pending returns the number of requests waiting in the current batch
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return 0
	}
	return len(b.current.members)
}

// Stop flushes the pending batch and waits for all in-flight flushes.
// Requests submitted afterwards fail immediately.
func (b *Batcher) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	if pending := b.current; pending != nil {
		b.current = nil
		pending.timer.Stop()
		b.flushes.Go(func() { b.flush(pending) })
	}
	b.mu.Unlock()

	b.flushes.Wait()
}

// Stats returns the counters of the batcher
func (b *Batcher) Stats() Stats {
	return Stats{
		Requests:      b.requests.Load(),
		Batches:       b.batches.Load(),
		SizeFlushes:   b.sizeFlushes.Load(),
		AgeFlushes:    b.ageFlushes.Load(),
		FailedFlushes: b.failed.Load(),
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// flushStale is called by the timer of cur once it reached MaxWait
func (b *Batcher) flushStale(cur *batch) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped || b.current != cur {
		return // flushed by size or by Stop
	}
	b.current = nil
	b.ageFlushes.Add(1)
	b.flushes.Go(func() { b.flush(cur) })
}

// flush sends all members as one exchange and distributes the answer
func (b *Batcher) flush(cur *batch) {
	n := len(cur.members)
	b.batches.Add(1)
	Logger.Debugf("Flushing batch of %d requests after %s", n, time.Since(cur.created).Round(time.Microsecond))

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout())
	defer cancel()

	// a single request needs no container
	if n == 1 {
		m := cur.members[0]
		resp, err := b.exchange(ctx, m.msg)
		if err != nil {
			b.failed.Add(1)
			m.result <- Result{Err: err}
			return
		}
		m.result <- resultOf(resp)
		return
	}

	children := make([]common.Message, n)
	for i, m := range cur.members {
		children[i] = *m.msg
	}

	resp, err := b.exchange(ctx, common.NewContainer(children))
	if err != nil {
		b.failAll(cur, common.NewError(common.CodeBatchExchangeFailed, err, "batch of %d requests", n))
		return
	}

	switch {
	case resp.IsContainer() && len(resp.Children) == n:
		for i, m := range cur.members {
			child := resp.Children[i]
			m.result <- resultOf(&child)
		}
	case resp.IsContainer():
		b.failAll(cur, common.NewError(common.CodeBatchExchangeFailed, nil,
			"batch of %d requests answered with %d results", n, len(resp.Children)))
	case b.homogeneous(cur):
		for _, m := range cur.members {
			m.result <- resultOf(resp.Clone())
		}
	default:
		b.failAll(cur, common.NewError(common.CodeBatchExchangeFailed, nil,
			"single %s answer for a batch of %d distinct requests", resp.MsgType, n))
	}
}

func (b *Batcher) failAll(cur *batch, err error) {
	b.failed.Add(1)
	Logger.Warningf("Batch exchange failed: %v", err)
	for _, m := range cur.members {
		m.result <- Result{Err: err}
	}
}

// homogeneous reports whether all members are the same request, only then
// may one answer be shared by all of them
func (b *Batcher) homogeneous(cur *batch) bool {
	first, err := b.codec.Serialize(*cur.members[0].msg)
	if err != nil {
		return false
	}
	for _, m := range cur.members[1:] {
		other, err := b.codec.Serialize(*m.msg)
		if err != nil || !bytes.Equal(first, other) {
			return false
		}
	}
	return true
}

func resultOf(msg *common.Message) Result {
	if err := msg.AsError(); err != nil {
		return Result{Msg: msg, Err: err}
	}
	return Result{Msg: msg}
}

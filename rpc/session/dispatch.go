package session

import (
	"context"
	"sync"

	"github.com/ValentinKolb/dMux/lib/util"
	"github.com/ValentinKolb/dMux/rpc/common"
)

// job is one request waiting for a dispatch worker
type job struct {
	ctx    context.Context
	req    *common.Message
	result chan jobResult // buffered, the worker never blocks on it
}

type jobResult struct {
	msg *common.Message
	err error
}

// dispatchQueue orders waiting requests by (priority class, arrival). The
// class occupies the top byte of the heap priority so that a lower class is
// always served first and requests of one class are served in order.
type dispatchQueue struct {
	mu       sync.Mutex
	heap     *util.MapHeap[*job]
	seq      uint64
	capacity int
	closed   error         // set by drain, rejects later pushes
	ready    chan struct{} // holds a token while the queue may be non-empty
}

func newDispatchQueue(capacity int) *dispatchQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &dispatchQueue{
		heap:     util.NewMapHeap[*job](),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// push enqueues j and returns its key. It fails if the queue is full or
// was drained.
func (q *dispatchQueue) push(p common.Priority, j *job) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed != nil {
		return 0, q.closed
	}
	if q.heap.Len() >= q.capacity {
		return 0, common.NewError(common.CodeConnectionUnavailable, nil, "dispatch queue is full (%d requests)", q.capacity)
	}
	q.seq++
	key := q.seq
	q.heap.AddItem(key, uint64(p)<<56|key, j)
	q.signal()
	return key, nil
}

// pop removes the most urgent job
func (q *dispatchQueue) pop() (*job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, j, ok := q.heap.PopMin()
	if q.heap.Len() > 0 {
		// pass the token on to the next worker
		q.signal()
	}
	return j, ok
}

// remove drops a job that was not dispatched yet
func (q *dispatchQueue) remove(key uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.heap.RemoveByKey(key)
	return ok
}

func (q *dispatchQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// drain fails every queued job with err and closes the queue
func (q *dispatchQueue) drain(err error) {
	q.mu.Lock()
	q.closed = err
	q.mu.Unlock()
	for {
		j, ok := q.pop()
		if !ok {
			return
		}
		j.result <- jobResult{err: err}
	}
}

func (q *dispatchQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// --------------------------------------------------------------------------
// Session side
// --------------------------------------------------------------------------

// sendImmediate queues req by its priority class and waits for a dispatch
// worker to exchange it
func (s *Session) sendImmediate(ctx context.Context, req *common.Message) (*common.Message, error) {
	j := &job{ctx: ctx, req: req.Clone(), result: make(chan jobResult, 1)}
	key, err := s.queue.push(common.ClassifyPriority(req.Method), j)
	if err != nil {
		return nil, err
	}

	select {
	case res := <-j.result:
		return res.msg, res.err
	case <-ctx.Done():
		s.queue.remove(key)
		return nil, common.NewError(common.CodeTimeout, ctx.Err(), "%s", req.Method)
	}
}

// dispatchWorker serves the queue until the session stops. At most
// MaxInFlight workers run, which bounds the concurrent exchanges.
func (s *Session) dispatchWorker() {
	for s.ctx.Err() == nil {
		j, ok := s.queue.pop()
		if !ok {
			select {
			case <-s.queue.ready:
				continue
			case <-s.ctx.Done():
				return
			}
		}

		// the caller gave up while the job was queued
		if j.ctx.Err() != nil {
			j.result <- jobResult{err: common.NewError(common.CodeTimeout, j.ctx.Err(), "%s", j.req.Method)}
			continue
		}

		msg, err := s.exchange(j.ctx, j.req)
		j.result <- jobResult{msg: msg, err: err}
	}
}

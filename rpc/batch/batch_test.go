package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dMux/rpc/common"
)

// recorder records every exchange and answers with answer (echo by default)
type recorder struct {
	mu     sync.Mutex
	calls  []*common.Message
	times  []time.Time
	answer func(msg *common.Message) (*common.Message, error)
}

func (r *recorder) exchange(_ context.Context, msg *common.Message) (*common.Message, error) {
	r.mu.Lock()
	r.calls = append(r.calls, msg.Clone())
	r.times = append(r.times, time.Now())
	answer := r.answer
	r.mu.Unlock()

	if answer != nil {
		return answer(msg)
	}
	return echo(msg), nil
}

func (r *recorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func echo(msg *common.Message) *common.Message {
	if !msg.IsContainer() {
		return common.NewResponse(msg.Method, msg.Payload)
	}
	children := make([]common.Message, len(msg.Children))
	for i, c := range msg.Children {
		children[i] = *common.NewResponse(c.Method, c.Payload)
	}
	return common.NewContainer(children)
}

func newTestBatcher(t *testing.T, maxSize int, maxWait time.Duration, r *recorder) *Batcher {
	t.Helper()
	b := New(common.BatchConfig{Enabled: true, MaxSize: maxSize, MaxWait: maxWait}, r.exchange,
		func() time.Duration { return time.Second })
	t.Cleanup(b.Stop)
	return b
}

func await(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("No result delivered")
		return Result{}
	}
}

func TestAgeTrigger(t *testing.T) {
	r := &recorder{}
	b := newTestBatcher(t, 3, 100*time.Millisecond, r)

	start := time.Now()
	first := b.Submit(common.NewRequest("users.getUsers", []byte("1")))
	time.Sleep(50 * time.Millisecond)
	second := b.Submit(common.NewRequest("users.getUsers", []byte("2")))

	time.Sleep(30 * time.Millisecond)
	if r.callCount() != 0 {
		t.Fatal("Batch flushed before reaching its maximum age")
	}
	if b.Pending() != 2 {
		t.Errorf("Expected 2 pending requests, got %d", b.Pending())
	}

	res1, res2 := await(t, first), await(t, second)
	if res1.Err != nil || string(res1.Msg.Payload) != "1" || res2.Err != nil || string(res2.Msg.Payload) != "2" {
		t.Errorf("Unexpected results: %+v / %+v", res1, res2)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) != 1 || len(r.calls[0].Children) != 2 {
		t.Fatalf("Expected one exchange with 2 requests, got %d calls", len(r.calls))
	}
	if age := r.times[0].Sub(start); age < 100*time.Millisecond || age > 180*time.Millisecond {
		t.Errorf("Expected flush at ~100ms, got %s", age)
	}
	if s := b.Stats(); s.AgeFlushes != 1 || s.SizeFlushes != 0 {
		t.Errorf("Unexpected stats: %+v", s)
	}
}

func TestSizeTrigger(t *testing.T) {
	r := &recorder{}
	b := newTestBatcher(t, 3, time.Hour, r)

	var results []<-chan Result
	for i := 0; i < 3; i++ {
		results = append(results, b.Submit(common.NewRequest("users.getUsers", []byte{byte('a' + i)})))
	}

	for i, ch := range results {
		res := await(t, ch)
		if res.Err != nil {
			t.Fatalf("Request %d failed: %v", i, res.Err)
		}
		if want := string([]byte{byte('a' + i)}); string(res.Msg.Payload) != want {
			t.Errorf("Request %d got %q, want %q", i, res.Msg.Payload, want)
		}
	}
	if s := b.Stats(); s.SizeFlushes != 1 || s.Batches != 1 || s.MeanSize() != 3 {
		t.Errorf("Unexpected stats: %+v", s)
	}
	if b.Pending() != 0 {
		t.Errorf("Expected empty batch after flush, got %d", b.Pending())
	}
}

func TestSingleRequestSentBare(t *testing.T) {
	r := &recorder{}
	b := newTestBatcher(t, 10, 10*time.Millisecond, r)

	res := await(t, b.Submit(common.NewRequest("users.getMe", nil)))
	if res.Err != nil {
		t.Fatalf("Request failed: %v", res.Err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls[0].IsContainer() || r.calls[0].Method != "users.getMe" {
		t.Errorf("Expected a bare request, got %+v", r.calls[0])
	}
}

func TestPerMemberResults(t *testing.T) {
	r := &recorder{answer: func(msg *common.Message) (*common.Message, error) {
		return common.NewContainer([]common.Message{
			*common.NewResponse("a", []byte("ok")),
			*common.NewErrorResponse("b", "PEER_ID_INVALID"),
			*common.NewFloodWait("c", 3),
		}), nil
	}}
	b := newTestBatcher(t, 3, time.Hour, r)

	a := b.Submit(common.NewRequest("a", nil))
	bb := b.Submit(common.NewRequest("b", nil))
	c := b.Submit(common.NewRequest("c", nil))

	if res := await(t, a); res.Err != nil || string(res.Msg.Payload) != "ok" {
		t.Errorf("Expected success for a, got %+v", res)
	}
	if res := await(t, bb); !errors.Is(res.Err, common.ErrRemote) {
		t.Errorf("Expected remote error for b, got %v", res.Err)
	}
	res := await(t, c)
	if !errors.Is(res.Err, common.ErrRemoteOverload) || common.RetryAfter(res.Err) != 3*time.Second {
		t.Errorf("Expected flood wait for c, got %v", res.Err)
	}
}

func TestBatchFailuresReachEveryMember(t *testing.T) {
	cases := []struct {
		name   string
		answer func(msg *common.Message) (*common.Message, error)
	}{
		{"exchange_error", func(*common.Message) (*common.Message, error) {
			return nil, common.NewError(common.CodeConnectionUnavailable, nil, "link down")
		}},
		{"count_mismatch", func(*common.Message) (*common.Message, error) {
			return common.NewContainer([]common.Message{*common.NewResponse("a", nil)}), nil
		}},
		{"single_answer_distinct_requests", func(*common.Message) (*common.Message, error) {
			return common.NewResponse("a", []byte("shared")), nil
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := &recorder{answer: tc.answer}
			b := newTestBatcher(t, 2, time.Hour, r)

			first := b.Submit(common.NewRequest("a", []byte("1")))
			second := b.Submit(common.NewRequest("a", []byte("2")))
			for i, ch := range []<-chan Result{first, second} {
				if res := await(t, ch); !errors.Is(res.Err, common.ErrBatchExchangeFailed) {
					t.Errorf("Member %d: expected BatchExchangeFailed, got %v", i, res.Err)
				}
			}
			if b.Stats().FailedFlushes != 1 {
				t.Errorf("Expected one failed flush, got %d", b.Stats().FailedFlushes)
			}
		})
	}
}

func TestSharedAnswerForIdenticalRequests(t *testing.T) {
	r := &recorder{answer: func(*common.Message) (*common.Message, error) {
		return common.NewResponse("users.getMe", []byte("me")), nil
	}}
	b := newTestBatcher(t, 2, time.Hour, r)

	first := b.Submit(common.NewRequest("users.getMe", []byte("self")))
	second := b.Submit(common.NewRequest("users.getMe", []byte("self")))

	r1, r2 := await(t, first), await(t, second)
	if r1.Err != nil || r2.Err != nil || string(r1.Msg.Payload) != "me" || string(r2.Msg.Payload) != "me" {
		t.Fatalf("Expected both members to receive the shared answer: %+v / %+v", r1, r2)
	}
	r1.Msg.Payload[0] = 'x'
	if string(r2.Msg.Payload) != "me" {
		t.Error("Members share the answer buffer")
	}
}

func TestStopFlushesPending(t *testing.T) {
	r := &recorder{}
	b := New(common.BatchConfig{MaxSize: 10, MaxWait: time.Hour}, r.exchange, func() time.Duration { return time.Second })

	first := b.Submit(common.NewRequest("a", []byte("1")))
	second := b.Submit(common.NewRequest("b", []byte("2")))
	b.Stop()

	// results are buffered, so they are available right after Stop
	for i, ch := range []<-chan Result{first, second} {
		select {
		case res := <-ch:
			if res.Err != nil {
				t.Errorf("Member %d failed: %v", i, res.Err)
			}
		default:
			t.Errorf("Member %d has no result after Stop", i)
		}
	}

	if res := await(t, b.Submit(common.NewRequest("c", nil))); !errors.Is(res.Err, common.ErrBatchExchangeFailed) {
		t.Errorf("Expected submit after stop to fail, got %v", res.Err)
	}
	b.Stop() // idempotent
}

func TestConcurrentSubmit(t *testing.T) {
	r := &recorder{}
	b := newTestBatcher(t, 7, 5*time.Millisecond, r)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte(fmt.Sprintf("req-%d", i))
			var res Result
			select {
			case res = <-b.Submit(common.NewRequest("users.getUsers", payload)):
			case <-time.After(2 * time.Second):
				t.Errorf("Request %d got no result", i)
				return
			}
			if res.Err != nil || string(res.Msg.Payload) != string(payload) {
				t.Errorf("Request %d got %+v", i, res)
			}
		}(i)
	}
	wg.Wait()

	s := b.Stats()
	if s.Requests != 100 {
		t.Errorf("Expected 100 requests, got %d", s.Requests)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, call := range r.calls {
		if len(call.Children) > 7 {
			t.Errorf("Batch exceeded its maximum size: %d", len(call.Children))
		}
	}
}

package conn

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dMux/rpc/transport"
)

// fakeNetwork hands out echoing in-memory transports. The remote behavior is
// controlled through its fields.
type fakeNetwork struct {
	mu           sync.Mutex
	failConnects int
	connects     int
	last         *fakeTransport

	failSends atomic.Bool
	silent    atomic.Bool
}

func (n *fakeNetwork) factory() transport.ITransport {
	return &fakeTransport{
		net:    n,
		inbox:  make(chan []byte, 64),
		closed: make(chan struct{}),
		broken: make(chan struct{}),
	}
}

func (n *fakeNetwork) connectCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connects
}

// breakLink makes the remote drop the last connected transport
func (n *fakeNetwork) breakLink() {
	n.mu.Lock()
	t := n.last
	n.mu.Unlock()
	if t != nil {
		t.breakOnce.Do(func() { close(t.broken) })
	}
}

type fakeTransport struct {
	net       *fakeNetwork
	inbox     chan []byte
	closed    chan struct{}
	broken    chan struct{}
	closeOnce sync.Once
	breakOnce sync.Once
}

func (t *fakeTransport) Connect(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	t.net.connects++
	if t.net.failConnects > 0 {
		t.net.failConnects--
		return errors.New("connection refused")
	}
	t.net.last = t
	return nil
}

func (t *fakeTransport) Send(data []byte) error {
	select {
	case <-t.closed:
		return transport.ErrClosed
	case <-t.broken:
		return io.ErrClosedPipe
	default:
	}
	if t.net.failSends.Load() {
		return errors.New("write: broken pipe")
	}
	if t.net.silent.Load() {
		return nil
	}
	t.inbox <- append([]byte(nil), data...)
	return nil
}

func (t *fakeTransport) Receive() ([]byte, error) {
	select {
	case data := <-t.inbox:
		return data, nil
	case <-t.closed:
		return nil, transport.ErrClosed
	case <-t.broken:
		return nil, io.EOF
	}
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) Name() string { return "fake" }

package duplexrpc_test

import (
	"context"
	"io"
	"iter"
	"sync"

	"go.uber.org/atomic"

	"github.com/jhump/duplexrpc"
)

type request interface {
	isRequest()
}

type response interface {
	isResponse()
}

// start begins a sum at Base.
type start struct{ Base int }

func (*start) isRequest() {}

type add struct{ N int }

func (*add) isRequest() {}

type ping struct{}

func (*ping) isRequest() {}

type total struct{ Sum int }

func (*total) isResponse() {}

type note struct{ Text string }

func (*note) isResponse() {}

var testService = duplexrpc.Service[request, response]{Name: "adder"}

var sumMethod = duplexrpc.NewBidiStreaming(
	testService,
	"sum",
	duplexrpc.Variant(func(s *start) request { return s }),
	duplexrpc.Variant(func(a *add) request { return a }),
	duplexrpc.Variant(func(t *total) response { return t }),
)

// sumHandler answers every update with the running total.
func sumHandler(ctx context.Context, _ struct{}, req *start, updates *duplexrpc.UpdateStream[request, *add]) iter.Seq[*total] {
	return func(yield func(*total) bool) {
		sum := req.Base
		for u := range updates.All(ctx) {
			sum += u.N
			if !yield(&total{Sum: sum}) {
				return
			}
		}
	}
}

type fakeSink[T any] struct {
	mu sync.Mutex
	// if err is set, sends fail once failAfter messages have been sent
	err       error
	failAfter int
	sent      []T
	attempts  int
	closes    int
}

func (s *fakeSink[T]) Send(_ context.Context, msg T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.err != nil && len(s.sent) >= s.failAfter {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSink[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSink[T]) stats() (sent []T, attempts, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]T(nil), s.sent...), s.attempts, s.closes
}

// blockingSink accepts nothing: every Send waits for its context and then
// fails with err.
type blockingSink[T any] struct {
	err     error
	sending chan struct{}
	once    sync.Once
	closes  atomic.Int32
}

func newBlockingSink[T any](err error) *blockingSink[T] {
	return &blockingSink[T]{err: err, sending: make(chan struct{})}
}

func (s *blockingSink[T]) Send(ctx context.Context, _ T) error {
	s.once.Do(func() {
		close(s.sending)
	})
	<-ctx.Done()
	return s.err
}

func (s *blockingSink[T]) Close() error {
	s.closes.Inc()
	return nil
}

type recvResult[T any] struct {
	msg T
	err error
}

// fakeSource returns its results in order, then io.EOF.
type fakeSource[T any] struct {
	mu      sync.Mutex
	results []recvResult[T]
	recvs   int
	closes  int
}

func newFakeSource[T any](results ...recvResult[T]) *fakeSource[T] {
	return &fakeSource[T]{results: results}
}

func (s *fakeSource[T]) Recv(context.Context) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recvs++
	if len(s.results) == 0 {
		var zero T
		return zero, io.EOF
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.msg, r.err
}

func (s *fakeSource[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSource[T]) stats() (recvs, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvs, s.closes
}

type fakeConnector[In, Out any] struct {
	sink  *fakeSink[Out]
	src   *fakeSource[In]
	err   error
	opens int
}

func (c *fakeConnector[In, Out]) Open(context.Context) (duplexrpc.Sink[Out], duplexrpc.Source[In], error) {
	c.opens++
	if c.err != nil {
		return nil, nil, c.err
	}
	return c.sink, c.src, nil
}

type fakeListener[In, Out any] struct {
	err    error
	closes int
}

func (l *fakeListener[In, Out]) Accept(context.Context) (duplexrpc.Sink[Out], duplexrpc.Source[In], error) {
	return nil, nil, l.err
}

func (l *fakeListener[In, Out]) Close() error {
	l.closes++
	return nil
}

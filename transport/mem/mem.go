// Package mem provides an in-process transport. Substreams are pairs of
// flow-controlled queues, so a connector and its listener behave like the two
// ends of a multiplexed connection without any serialization.
//
// It is mostly useful for tests and for running a client and a server in the
// same process.
package mem

import (
	"context"
	"errors"
	"sync"

	"github.com/jhump/duplexrpc"
)

// ErrListenerClosed is returned by Open and Accept once the listener has been
// closed.
var ErrListenerClosed = errors.New("mem: listener closed")

// DefaultWindow is the number of messages that may be in flight in each
// direction of a substream when New is given a window of zero.
const DefaultWindow = 16

// New creates a connected connector and listener. Req is the type of
// messages sent by the connector's side and Res the type of messages sent by
// the listener's side. Each direction of each substream lets at most window
// messages be in flight before senders block.
func New[Req, Res any](window uint32) (*Connector[Req, Res], *Listener[Req, Res]) {
	if window == 0 {
		window = DefaultWindow
	}
	l := &Listener[Req, Res]{
		window:  window,
		pending: make(chan *substream[Req, Res]),
		done:    make(chan struct{}),
	}
	return &Connector[Req, Res]{l: l}, l
}

type substream[Req, Res any] struct {
	requests  *queue[Req]
	responses *queue[Res]
}

// Connector opens substreams to its Listener.
type Connector[Req, Res any] struct {
	l *Listener[Req, Res]
}

var _ duplexrpc.Connector[any, any] = (*Connector[any, any])(nil)

// Open creates a substream and blocks until the listener accepts it.
func (c *Connector[Req, Res]) Open(ctx context.Context) (duplexrpc.Sink[Req], duplexrpc.Source[Res], error) {
	st := &substream[Req, Res]{
		requests:  newQueue[Req](c.l.window),
		responses: newQueue[Res](c.l.window),
	}
	select {
	case c.l.pending <- st:
		return &Sink[Req]{q: st.requests}, &Source[Res]{q: st.responses}, nil
	case <-c.l.done:
		return nil, nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// Listener accepts substreams opened by its Connector.
type Listener[Req, Res any] struct {
	window    uint32
	pending   chan *substream[Req, Res]
	done      chan struct{}
	closeOnce sync.Once
}

var _ duplexrpc.Listener[any, any] = (*Listener[any, any])(nil)

// Accept waits for the connector to open a substream.
func (l *Listener[Req, Res]) Accept(ctx context.Context) (duplexrpc.Sink[Res], duplexrpc.Source[Req], error) {
	select {
	case st := <-l.pending:
		return &Sink[Res]{q: st.responses}, &Source[Req]{q: st.requests}, nil
	case <-l.done:
		return nil, nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// Close stops accepting substreams. Pending and future calls to Open fail
// with ErrListenerClosed.
func (l *Listener[Req, Res]) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	return nil
}

// Sink is the outgoing half of an in-process substream.
type Sink[T any] struct {
	q *queue[T]
}

// Send enqueues the message, waiting while the window is exhausted.
func (s *Sink[T]) Send(ctx context.Context, msg T) error {
	return s.q.send(ctx, msg)
}

// Close ends this direction. The peer receives io.EOF after the queued
// messages.
func (s *Sink[T]) Close() error {
	s.q.close()
	return nil
}

// Source is the incoming half of an in-process substream.
type Source[T any] struct {
	q *queue[T]
}

// Recv dequeues the next message.
func (s *Source[T]) Recv(ctx context.Context) (T, error) {
	return s.q.recv(ctx)
}

// Close discards queued messages; the peer's further sends fail with
// ErrReset.
func (s *Source[T]) Close() error {
	s.q.cancel()
	return nil
}

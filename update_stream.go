package duplexrpc

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
)

// UpdateStream yields the typed updates of one call. It exclusively owns
// consumption of the incoming half of the call's substream.
//
// Failures never show up as elements. When the transport fails, or a message
// is not the expected update type, the stream ends and the failure is
// reported through the *ReadError returned alongside the stream. If the
// client closes its update sink, the stream simply ends.
//
// An UpdateStream is not safe for concurrent use by multiple goroutines.
type UpdateStream[Req, U any] struct {
	method  string
	src     Source[Req]
	conv    Converter[Req, U]
	readErr *ReadError
	done    bool
}

// NewUpdateStream splits the incoming half of a substream into a stream of
// typed updates and a one-shot error signal.
func NewUpdateStream[Req, U any](method string, src Source[Req], conv Converter[Req, U]) (*UpdateStream[Req, U], *ReadError) {
	readErr := &ReadError{done: make(chan struct{})}
	return &UpdateStream[Req, U]{
		method:  method,
		src:     src,
		conv:    conv,
		readErr: readErr,
	}, readErr
}

// Recv returns the next update. It returns false once the stream has ended,
// whether cleanly or not.
func (s *UpdateStream[Req, U]) Recv(ctx context.Context) (U, bool) {
	var zero U
	if s.done {
		return zero, false
	}
	msg, err := s.src.Recv(ctx)
	if err != nil {
		s.done = true
		if !errors.Is(err, io.EOF) {
			s.readErr.resolve(&RecvError{Err: err})
		}
		return zero, false
	}
	update, ok := s.conv.Unwrap(msg)
	if !ok {
		s.done = true
		s.readErr.resolve(newDowncastError[Req, U](s.method, msg))
		return zero, false
	}
	return update, true
}

// All returns an iterator over the remaining updates.
func (s *UpdateStream[Req, U]) All(ctx context.Context) iter.Seq[U] {
	return func(yield func(U) bool) {
		for {
			update, ok := s.Recv(ctx)
			if !ok || !yield(update) {
				return
			}
		}
	}
}

// ReadError is resolved at most once, when the update stream it belongs to
// fails. It is never resolved if the stream ends cleanly.
type ReadError struct {
	once sync.Once
	done chan struct{}
	err  error
}

func (r *ReadError) resolve(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Done returns a channel that is closed when the error is resolved.
func (r *ReadError) Done() <-chan struct{} {
	return r.done
}

// Err returns the resolved error, or nil if it is not resolved yet.
func (r *ReadError) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the error is resolved or the context is done.
func (r *ReadError) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

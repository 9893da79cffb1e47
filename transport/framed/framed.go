// Package framed carries a message set over any byte stream that supports
// half-closing, using length-prefixed frames. The yamux and QUIC transports
// are built on it.
package framed

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/jhump/duplexrpc"
	"github.com/jhump/duplexrpc/codec"
)

// Stream is a duplex byte stream for one substream.
type Stream interface {
	io.Reader
	io.Writer
	// CloseWrite closes the writing direction; the peer reads io.EOF.
	CloseWrite() error
	// Close releases the whole stream.
	Close() error
}

type readDeadliner interface {
	SetReadDeadline(time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(time.Time) error
}

// aLongTimeAgo is a deadline in the past, used to interrupt blocked reads
// and writes.
var aLongTimeAgo = time.Unix(1, 0)

// New splits a stream into a sink of Out values and a source of In values.
//
// Closing the sink half-closes the stream; closing the source releases it.
// If the stream supports deadlines, a send or receive that is blocked when
// its context is done is interrupted, which leaves the stream unusable.
func New[In, Out any](stream Stream, in codec.Codec[In], out codec.Codec[Out]) (*Sink[Out], *Source[In]) {
	st := &shared{stream: stream}
	return &Sink[Out]{st: st, codec: out}, &Source[In]{st: st, codec: in}
}

type shared struct {
	stream     Stream
	halfClosed atomic.Bool
	released   atomic.Bool
}

// Sink writes one frame per message.
type Sink[T any] struct {
	st    *shared
	codec codec.Codec[T]
}

var _ duplexrpc.Sink[any] = (*Sink[any])(nil)

func (s *Sink[T]) Send(ctx context.Context, msg T) error {
	if s.st.halfClosed.Load() || s.st.released.Load() {
		return duplexrpc.ErrClosed
	}
	b, err := s.codec.Marshal(msg)
	if err != nil {
		return err
	}
	if d, ok := s.st.stream.(writeDeadliner); ok {
		defer interruptOnDone(ctx, d.SetWriteDeadline)()
	}
	if err := WriteFrame(s.st.stream, b); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// interruptOnDone moves a deadline into the past once ctx is done. The
// returned func must be called when the operation is over: if ctx ended
// while the operation was completing anyway, it clears the deadline again
// so the next operation is not interrupted.
func interruptOnDone(ctx context.Context, setDeadline func(time.Time) error) func() {
	var interrupted sync.WaitGroup
	interrupted.Add(1)
	stop := context.AfterFunc(ctx, func() {
		defer interrupted.Done()
		_ = setDeadline(aLongTimeAgo)
	})
	return func() {
		if stop() {
			return
		}
		interrupted.Wait()
		_ = setDeadline(time.Time{})
	}
}

// Close half-closes the stream.
func (s *Sink[T]) Close() error {
	if s.st.released.Load() || !s.st.halfClosed.CompareAndSwap(false, true) {
		return nil
	}
	return s.st.stream.CloseWrite()
}

// Source reads one message per frame.
type Source[T any] struct {
	st    *shared
	codec codec.Codec[T]
}

var _ duplexrpc.Source[any] = (*Source[any])(nil)

func (s *Source[T]) Recv(ctx context.Context) (T, error) {
	var msg T
	if s.st.released.Load() {
		return msg, duplexrpc.ErrClosed
	}
	if d, ok := s.st.stream.(readDeadliner); ok {
		defer interruptOnDone(ctx, d.SetReadDeadline)()
	}
	err := ReadFrame(s.st.stream, func(b []byte) error {
		var err error
		msg, err = s.codec.Unmarshal(b)
		return err
	})
	if err != nil {
		if errors.Is(err, io.EOF) {
			return msg, io.EOF
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return msg, ctxErr
		}
		return msg, err
	}
	return msg, nil
}

// Close releases the stream.
func (s *Source[T]) Close() error {
	if !s.st.released.CompareAndSwap(false, true) {
		return nil
	}
	return s.st.stream.Close()
}

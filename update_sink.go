package duplexrpc

import (
	"context"

	"go.uber.org/atomic"
)

// UpdateSink sends typed updates for one call. It exclusively owns the
// outgoing half of the call's substream.
//
// An UpdateSink is not safe for concurrent use by multiple goroutines.
type UpdateSink[Req, U any] struct {
	sink   Sink[Req]
	conv   Converter[Req, U]
	closed atomic.Bool
}

// NewUpdateSink wraps the outgoing half of a substream.
func NewUpdateSink[Req, U any](sink Sink[Req], conv Converter[Req, U]) *UpdateSink[Req, U] {
	return &UpdateSink[Req, U]{sink: sink, conv: conv}
}

// Send converts the update into the request message set and sends it. It
// blocks for as long as the transport applies backpressure. Transport
// failures are returned as a *SendError. Once a send fails, the sink is closed
// and further sends fail with ErrClosed.
func (s *UpdateSink[Req, U]) Send(ctx context.Context, update U) error {
	if s.closed.Load() {
		return &SendError{Err: ErrClosed}
	}
	if err := s.sink.Send(ctx, s.conv.Wrap(update)); err != nil {
		_ = s.Close()
		return &SendError{Err: err}
	}
	return nil
}

// Close ends the stream of updates. Only the first call reaches the
// transport; later calls return nil.
func (s *UpdateSink[Req, U]) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.sink.Close()
}

package duplexrpc

import (
	"context"
	"errors"
	"io"
	"iter"

	"go.uber.org/atomic"
)

// Client issues calls for a Service over a Connector. Every call opens its
// own substream, so a Client may be used from many goroutines at once and
// concurrent calls never wait on each other.
type Client[Req, Res any] struct {
	svc  Service[Req, Res]
	conn Connector[Res, Req]
}

// NewClient creates a client for the given service that opens substreams with
// the given connector.
func NewClient[Req, Res any](svc Service[Req, Res], conn Connector[Res, Req]) *Client[Req, Res] {
	return &Client[Req, Res]{svc: svc, conn: conn}
}

// Service returns the service this client issues calls for.
func (c *Client[Req, Res]) Service() Service[Req, Res] {
	return c.svc
}

// open opens a substream and sends the initial request on it. If the request
// cannot be sent, the substream is released before returning.
func (c *Client[Req, Res]) open(ctx context.Context, req Req) (Sink[Req], Source[Res], error) {
	sink, src, err := c.conn.Open(ctx)
	if err != nil {
		return nil, nil, &OpenError{Err: err}
	}
	if err := sink.Send(ctx, req); err != nil {
		_ = sink.Close()
		_ = src.Close()
		return nil, nil, &SendError{Err: err}
	}
	return sink, src, nil
}

// ResponseStream yields the typed responses of one call, in the order the
// server sent them. Responses are read lazily, as Recv is called.
//
// A ResponseStream is not safe for concurrent use by multiple goroutines.
type ResponseStream[Res, R any] struct {
	method string
	src    Source[Res]
	conv   Converter[Res, R]
	err    error
	closed atomic.Bool
}

// NewResponseStream wraps the incoming half of a substream.
func NewResponseStream[Res, R any](method string, src Source[Res], conv Converter[Res, R]) *ResponseStream[Res, R] {
	return &ResponseStream[Res, R]{method: method, src: src, conv: conv}
}

// Recv returns the next response. It returns io.EOF once the server has
// finished sending responses.
//
// A response that is not the expected type is reported as a *DowncastError;
// the stream remains usable and the next call to Recv moves on to the next
// response. A transport failure is reported as a *RecvError and ends the
// stream: every later call returns the same error.
func (s *ResponseStream[Res, R]) Recv(ctx context.Context) (R, error) {
	var zero R
	if s.err != nil {
		return zero, s.err
	}
	if s.closed.Load() {
		return zero, ErrClosed
	}
	msg, err := s.src.Recv(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.err = io.EOF
		} else {
			s.err = &RecvError{Err: err}
		}
		_ = s.Close()
		return zero, s.err
	}
	resp, ok := s.conv.Unwrap(msg)
	if !ok {
		return zero, newDowncastError[Res, R](s.method, msg)
	}
	return resp, nil
}

// All returns an iterator over the remaining responses. Each element is
// either a response or the error for that element. Iteration stops at the end
// of the stream or after a transport failure has been yielded.
func (s *ResponseStream[Res, R]) All(ctx context.Context) iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		for {
			resp, err := s.Recv(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(resp, err) {
				return
			}
			var recvErr *RecvError
			if errors.As(err, &recvErr) {
				return
			}
		}
	}
}

// Close releases the incoming half of the substream. Responses not yet
// received are discarded. Closing a stream that is already exhausted or
// closed does nothing.
func (s *ResponseStream[Res, R]) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.src.Close()
}

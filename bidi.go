package duplexrpc

import (
	"context"
	"fmt"
	"iter"
)

// BidiStreamingPattern is the bidirectional streaming interaction pattern.
// After the initial request, the client can send updates and the server can
// send responses.
type BidiStreamingPattern struct{}

func (BidiStreamingPattern) String() string {
	return "bidi-streaming"
}

func (BidiStreamingPattern) isInteractionPattern() {}

// BidiStreaming describes a bidirectional streaming method of a service. M is
// the request type that starts a call, U the type of the updates the client
// sends afterwards and R the type of the responses the server sends.
//
// Descriptors are created with NewBidiStreaming, typically once, as package
// level variables next to the service's message types.
type BidiStreaming[Req, Res, M, U, R any] struct {
	svc      Service[Req, Res]
	method   string
	request  Converter[Req, M]
	update   Converter[Req, U]
	response Converter[Res, R]
}

var _ Msg[any, any, any] = (*BidiStreaming[any, any, any, any, any])(nil)

// NewBidiStreaming creates a descriptor for a bidirectional streaming method.
//
// It panics if any converter is nil. A method that does not meaningfully
// support updates or responses must still say so explicitly, for example by
// passing a converter created with Unsupported.
func NewBidiStreaming[Req, Res, M, U, R any](
	svc Service[Req, Res],
	method string,
	request Converter[Req, M],
	update Converter[Req, U],
	response Converter[Res, R],
) *BidiStreaming[Req, Res, M, U, R] {
	switch {
	case request == nil:
		panic(fmt.Sprintf("duplexrpc: %s/%s: nil request converter", svc.Name, method))
	case update == nil:
		panic(fmt.Sprintf("duplexrpc: %s/%s: nil update converter", svc.Name, method))
	case response == nil:
		panic(fmt.Sprintf("duplexrpc: %s/%s: nil response converter", svc.Name, method))
	}
	return &BidiStreaming[Req, Res, M, U, R]{
		svc:      svc,
		method:   method,
		request:  request,
		update:   update,
		response: response,
	}
}

func (d *BidiStreaming[Req, Res, M, U, R]) Service() Service[Req, Res] {
	return d.svc
}

// Method returns the method's fully-qualified name, "service/method".
func (d *BidiStreaming[Req, Res, M, U, R]) Method() string {
	return d.svc.Name + "/" + d.method
}

func (d *BidiStreaming[Req, Res, M, U, R]) Pattern() InteractionPattern {
	return BidiStreamingPattern{}
}

func (d *BidiStreaming[Req, Res, M, U, R]) Request() Converter[Req, M] {
	return d.request
}

func (d *BidiStreaming[Req, Res, M, U, R]) Update() Converter[Req, U] {
	return d.update
}

func (d *BidiStreaming[Req, Res, M, U, R]) Response() Converter[Res, R] {
	return d.response
}

// Match recovers this method's request from an initial request accepted by a
// server. It returns false if req starts some other method.
func (d *BidiStreaming[Req, Res, M, U, R]) Match(req Req) (M, bool) {
	return d.request.Unwrap(req)
}

// Bidi starts a bidirectional streaming call: it opens a substream, sends msg
// on it and returns a sink for updates and a stream of responses.
//
// If the substream cannot be opened, a *OpenError is returned and nothing is
// sent. If the request cannot be sent, a *SendError is returned. Otherwise the
// caller owns both halves of the call and should close each of them when done
// with it. The context only bounds opening the substream and sending the
// request; it does not bound the lifetime of the call.
func Bidi[Req, Res, M, U, R any](
	ctx context.Context,
	c *Client[Req, Res],
	desc *BidiStreaming[Req, Res, M, U, R],
	msg M,
) (*UpdateSink[Req, U], *ResponseStream[Res, R], error) {
	sink, src, err := c.open(ctx, desc.request.Wrap(msg))
	if err != nil {
		return nil, nil, err
	}
	return NewUpdateSink(sink, desc.update), NewResponseStream(desc.Method(), src, desc.response), nil
}

// BidiHandler handles one bidirectional streaming call. It receives the
// target value passed to ServeBidi, the call's initial request and the stream
// of updates, and returns the sequence of responses to send.
//
// The handler alone decides how many responses to produce and when to stop,
// and its sequence may wait on updates while producing them. The context is
// cancelled when the call ends, including when it fails while the sequence is
// still being consumed, so anything the sequence waits on must honor it.
type BidiHandler[Req, M, U, R, T any] func(ctx context.Context, target T, req M, updates *UpdateStream[Req, U]) iter.Seq[R]

// ServeBidi handles one bidirectional streaming call on an accepted channel.
// It takes ownership of the channel and closes it before returning.
//
// The handler's responses are sent in the order they are produced. At the
// same time, failures of the update stream are watched: if the update stream
// fails before all responses have been sent, sending stops and the update
// stream's error is returned. Otherwise the result is nil once the response
// sequence is exhausted, or a *SendError if a response could not be sent.
//
// ServeBidi handles exactly one call. To serve calls concurrently, call it on
// a separate goroutine for each accepted channel (see Server.Serve).
func ServeBidi[Req, Res, M, U, R, T any](
	ctx context.Context,
	ch *Channel[Req, Res],
	desc *BidiStreaming[Req, Res, M, U, R],
	req M,
	target T,
	handler BidiHandler[Req, M, U, R, T],
) error {
	handlerCtx, cancelHandler := context.WithCancel(ctx)
	defer cancelHandler()
	// close before cancelling, so the peer sees the call end cleanly
	defer func() {
		_ = ch.Close()
	}()

	updates, readErr := NewUpdateStream(desc.Method(), ch.src, desc.update)
	responses := handler(handlerCtx, target, req, updates)

	watch := func(ctx context.Context) error {
		err := readErr.Wait(ctx)
		if ctx.Err() == nil {
			// the send loop may be parked in the handler's sequence,
			// waiting on the handler context
			cancelHandler()
		}
		return err
	}
	return race2(ctx, watch, func(ctx context.Context) error {
		for resp := range responses {
			// a failure observed by the handler takes precedence over
			// whatever it produced afterwards
			if err := readErr.Err(); err != nil {
				return err
			}
			if err := ch.sink.Send(ctx, desc.response.Wrap(resp)); err != nil {
				return &SendError{Err: err}
			}
		}
		return readErr.Err()
	})
}

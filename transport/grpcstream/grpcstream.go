// Package grpcstream carries substreams as gRPC bidirectional streams. Each
// substream is one call to the duplexrpc.Substream/Open method, whose frames
// are google.protobuf.BytesValue messages holding one encoded message each.
//
// The server side is registered with any grpc.ServiceRegistrar (a
// *grpc.Server, an in-process channel, ...) and the client side works with
// any grpc.ClientConnInterface.
package grpcstream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/jhump/duplexrpc"
	"github.com/jhump/duplexrpc/codec"
)

const (
	// ServiceName is the name of the gRPC service that carries substreams.
	ServiceName = "duplexrpc.Substream"
	// FullMethodName is the full name of the method that opens a substream.
	FullMethodName = "/" + ServiceName + "/Open"
)

type substreamServer interface {
	open(grpc.ServerStream) error
}

// ServiceDesc describes the duplexrpc.Substream service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*substreamServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Open",
			Handler:       openHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "duplexrpc/substream",
}

func openHandler(srv any, stream grpc.ServerStream) error {
	return srv.(substreamServer).open(stream)
}

// Connector opens a gRPC stream per substream.
type Connector[Req, Res any] struct {
	cc  grpc.ClientConnInterface
	req codec.Codec[Req]
	res codec.Codec[Res]
}

var _ duplexrpc.Connector[any, any] = (*Connector[any, any])(nil)

// NewConnector returns a connector for the client side of a service.
func NewConnector[Req, Res any](cc grpc.ClientConnInterface, req codec.Codec[Req], res codec.Codec[Res]) *Connector[Req, Res] {
	return &Connector[Req, Res]{cc: cc, req: req, res: res}
}

// Open starts a call. The call outlives ctx: it lasts until the returned
// source is closed, or until a send or receive is interrupted by its own
// context.
func (c *Connector[Req, Res]) Open(ctx context.Context) (duplexrpc.Sink[Req], duplexrpc.Source[Res], error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)
	stream, err := c.cc.NewStream(streamCtx, &ServiceDesc.Streams[0], FullMethodName)
	stop()
	if err != nil {
		cancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, nil, fmt.Errorf("opening grpc stream: %w", err)
	}
	cs := &clientStream{stream: stream, cancel: cancel}
	return &clientSink[Req]{cs: cs, codec: c.req}, &clientSource[Res]{cs: cs, codec: c.res}, nil
}

type clientStream struct {
	stream grpc.ClientStream
	cancel context.CancelFunc

	// SendMsg and CloseSend may not be called concurrently
	sendMu     sync.Mutex
	sendClosed bool
}

// interruptible runs fn, cancelling the whole call if ctx is done first.
func (cs *clientStream) interruptible(ctx context.Context, fn func() error) error {
	stop := context.AfterFunc(ctx, cs.cancel)
	defer stop()
	if err := fn(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

type clientSink[T any] struct {
	cs    *clientStream
	codec codec.Codec[T]
}

func (s *clientSink[T]) Send(ctx context.Context, msg T) error {
	b, err := s.codec.Marshal(msg)
	if err != nil {
		return err
	}
	s.cs.sendMu.Lock()
	defer s.cs.sendMu.Unlock()
	if s.cs.sendClosed {
		return duplexrpc.ErrClosed
	}
	return s.cs.interruptible(ctx, func() error {
		return s.cs.stream.SendMsg(wrapperspb.Bytes(b))
	})
}

// Close half-closes the call.
func (s *clientSink[T]) Close() error {
	s.cs.sendMu.Lock()
	defer s.cs.sendMu.Unlock()
	if s.cs.sendClosed {
		return nil
	}
	s.cs.sendClosed = true
	return s.cs.stream.CloseSend()
}

type clientSource[T any] struct {
	cs    *clientStream
	codec codec.Codec[T]
}

func (s *clientSource[T]) Recv(ctx context.Context) (T, error) {
	var frame wrapperspb.BytesValue
	if err := s.cs.interruptible(ctx, func() error {
		return s.cs.stream.RecvMsg(&frame)
	}); err != nil {
		var zero T
		return zero, err
	}
	return s.codec.Unmarshal(frame.GetValue())
}

// Close cancels the call.
func (s *clientSource[T]) Close() error {
	s.cs.cancel()
	return nil
}

// Listener accepts the calls made to the duplexrpc.Substream service.
type Listener[Req, Res any] struct {
	req codec.Codec[Req]
	res codec.Codec[Res]

	streams   chan *serverStream
	done      chan struct{}
	closeOnce sync.Once
}

var _ duplexrpc.Listener[any, any] = (*Listener[any, any])(nil)

// Register registers the duplexrpc.Substream service with reg and returns a
// listener for the substreams it receives. Only one listener can be
// registered with a given registrar.
func Register[Req, Res any](reg grpc.ServiceRegistrar, req codec.Codec[Req], res codec.Codec[Res]) *Listener[Req, Res] {
	l := &Listener[Req, Res]{
		req:     req,
		res:     res,
		streams: make(chan *serverStream),
		done:    make(chan struct{}),
	}
	reg.RegisterService(&ServiceDesc, l)
	return l
}

func (l *Listener[Req, Res]) open(stream grpc.ServerStream) error {
	ss := &serverStream{stream: stream, finished: make(chan struct{})}
	ctx := stream.Context()
	select {
	case l.streams <- ss:
	case <-l.done:
		return status.Error(codes.Unavailable, "substream listener is closed")
	case <-ctx.Done():
		return status.FromContextError(ctx.Err()).Err()
	}
	select {
	case <-ss.finished:
	case <-ctx.Done():
		ss.finish(status.FromContextError(ctx.Err()).Err())
	}
	if !ss.sendInterrupted.Load() {
		// SendMsg must not be called once the handler returns. A send that
		// is in flight completes first, and later sends see the stream
		// finished.
		ss.sendMu.Lock()
		defer ss.sendMu.Unlock()
	}
	return ss.err
}

func (l *Listener[Req, Res]) Accept(ctx context.Context) (duplexrpc.Sink[Res], duplexrpc.Source[Req], error) {
	select {
	case ss := <-l.streams:
		return &serverSink[Res]{ss: ss, codec: l.res}, &serverSource[Req]{ss: ss, codec: l.req}, nil
	case <-l.done:
		return nil, nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// Close stops accepting substreams. Calls that have not yet been accepted
// fail with codes.Unavailable. The gRPC server itself is left running.
func (l *Listener[Req, Res]) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	return nil
}

// ErrListenerClosed is returned by Accept once the listener has been closed.
var ErrListenerClosed = errors.New("grpcstream: listener closed")

// serverStream is one accepted call. The call ends, and its handler returns,
// when the stream is finished.
type serverStream struct {
	stream grpc.ServerStream
	sendMu sync.Mutex
	// set when a blocked send is interrupted; that send only returns once
	// the handler does
	sendInterrupted atomic.Bool

	mu       sync.Mutex
	finished chan struct{}
	err      error
}

func (ss *serverStream) finish(err error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	select {
	case <-ss.finished:
	default:
		ss.err = err
		close(ss.finished)
	}
}

func (ss *serverStream) isFinished() bool {
	select {
	case <-ss.finished:
		return true
	default:
		return false
	}
}

// interruptible runs fn, finishing the call if ctx is done first.
func (ss *serverStream) interruptible(ctx context.Context, sending bool, fn func() error) error {
	stop := context.AfterFunc(ctx, func() {
		if sending {
			ss.sendInterrupted.Store(true)
		}
		ss.finish(status.FromContextError(ctx.Err()).Err())
	})
	defer stop()
	if err := fn(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

type serverSink[T any] struct {
	ss    *serverStream
	codec codec.Codec[T]
}

func (s *serverSink[T]) Send(ctx context.Context, msg T) error {
	b, err := s.codec.Marshal(msg)
	if err != nil {
		return err
	}
	s.ss.sendMu.Lock()
	defer s.ss.sendMu.Unlock()
	if s.ss.isFinished() {
		return duplexrpc.ErrClosed
	}
	return s.ss.interruptible(ctx, true, func() error {
		return s.ss.stream.SendMsg(wrapperspb.Bytes(b))
	})
}

// Close ends the call successfully; the client receives io.EOF.
func (s *serverSink[T]) Close() error {
	s.ss.finish(nil)
	return nil
}

type serverSource[T any] struct {
	ss    *serverStream
	codec codec.Codec[T]
}

func (s *serverSource[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	if s.ss.isFinished() {
		return zero, duplexrpc.ErrClosed
	}
	var frame wrapperspb.BytesValue
	if err := s.ss.interruptible(ctx, false, func() error {
		return s.ss.stream.RecvMsg(&frame)
	}); err != nil {
		return zero, err
	}
	return s.codec.Unmarshal(frame.GetValue())
}

// Close ends the call. If the sink was not closed first, the client sees the
// call cancelled.
func (s *serverSource[T]) Close() error {
	s.ss.finish(status.Error(codes.Canceled, "substream closed by server"))
	return nil
}

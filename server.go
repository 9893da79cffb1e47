package duplexrpc

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Dispatcher handles one call accepted by a Server. It receives the call's
// channel and initial request, and is responsible for the channel from then
// on: typically it matches the request against the service's method
// descriptors and hands the channel to the matching pattern handler, such as
// ServeBidi.
type Dispatcher[Req, Res any] func(ctx context.Context, ch *Channel[Req, Res], req Req) error

// Server accepts calls for a Service from a Listener.
//
// Accept can be used to drive the server by hand. Serve runs an accept loop
// and handles every call on its own goroutine. The server imposes no limit on
// the number of concurrent calls.
type Server[Req, Res any] struct {
	svc      Service[Req, Res]
	listener Listener[Req, Res]
	logger   *zap.Logger

	lastID   atomic.Uint64
	stopping atomic.Bool
	calls    errgroup.Group

	mu      sync.Mutex
	serving []chan struct{}
}

// NewServer creates a server for the given service that accepts substreams
// from the given listener.
func NewServer[Req, Res any](svc Service[Req, Res], listener Listener[Req, Res], opts ...ServerOption) *Server[Req, Res] {
	var o serverOpts
	for _, opt := range opts {
		opt.apply(&o)
	}
	return &Server[Req, Res]{
		svc:      svc,
		listener: listener,
		logger:   o.logOrNop().With(zap.String("service", svc.Name)),
	}
}

// Service returns the service this server accepts calls for.
func (s *Server[Req, Res]) Service() Service[Req, Res] {
	return s.svc
}

// Accept waits for the next substream and reads its initial request.
//
// If the listener fails, a *AcceptError is returned and the server should not
// be used any more. If the substream ends before a request arrives,
// ErrEarlyClose is returned; if it fails, a *RecvError is returned. In both of
// these cases the substream has been released and the server may keep
// accepting.
func (s *Server[Req, Res]) Accept(ctx context.Context) (*Channel[Req, Res], Req, error) {
	var zero Req
	if s.stopping.Load() {
		return nil, zero, ErrServerClosed
	}
	sink, src, err := s.listener.Accept(ctx)
	if err != nil {
		if s.stopping.Load() {
			return nil, zero, ErrServerClosed
		}
		return nil, zero, &AcceptError{Err: err}
	}
	req, err := src.Recv(ctx)
	if err != nil {
		_ = sink.Close()
		_ = src.Close()
		if errors.Is(err, io.EOF) {
			return nil, zero, ErrEarlyClose
		}
		return nil, zero, &RecvError{Err: err}
	}
	return NewChannel(s.lastID.Inc(), sink, src), req, nil
}

// Serve accepts calls until the listener fails, the context is done or the
// server is shut down, and runs dispatch for each call on its own goroutine.
// Calls are handled with a context derived from ctx, which carries the call's
// ID (see CallIDFromContext).
//
// After Shutdown, Serve returns ErrServerClosed. Calls still in flight when
// Serve returns keep running; Shutdown waits for them.
func (s *Server[Req, Res]) Serve(ctx context.Context, dispatch Dispatcher[Req, Res]) error {
	done := make(chan struct{})
	defer close(done)
	s.mu.Lock()
	s.serving = append(s.serving, done)
	s.mu.Unlock()

	for {
		ch, req, err := s.Accept(ctx)
		if err != nil {
			var acceptErr *AcceptError
			switch {
			case errors.Is(err, ErrServerClosed):
				return err
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.As(err, &acceptErr):
				s.logger.Warn("Failed to accept substream", zap.Error(err))
				return err
			default:
				s.logger.Debug("Discarding substream", zap.Error(err))
				continue
			}
		}

		s.calls.Go(func() error {
			callCtx := newCallContext(ctx, s.svc.Name, ch.ID())
			if err := dispatch(callCtx, ch, req); err != nil {
				s.logger.Debug("Call failed", zap.Uint64("call", ch.ID()), zap.Error(err))
			}
			// dispatch owns the channel, but make sure a call that was not
			// handled at all still releases its substream
			_ = ch.Close()
			return nil
		})
	}
}

// Shutdown stops the server from accepting new calls, closes the listener and
// waits for calls in flight to finish or for the context to be done.
func (s *Server[Req, Res]) Shutdown(ctx context.Context) error {
	s.stopping.Store(true)
	closeErr := s.listener.Close()

	s.mu.Lock()
	serving := s.serving
	s.serving = nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// no new calls are started once the accept loops have returned
		for _, loop := range serving {
			<-loop
		}
		_ = s.calls.Wait()
	}()

	select {
	case <-done:
		return closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

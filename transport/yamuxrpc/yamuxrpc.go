// Package yamuxrpc carries substreams as yamux streams, so many calls can
// share a single TCP connection (or any other net.Conn).
package yamuxrpc

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/libp2p/go-yamux/v4"

	"github.com/jhump/duplexrpc"
	"github.com/jhump/duplexrpc/codec"
	"github.com/jhump/duplexrpc/transport/framed"
)

// Config returns the yamux configuration used by Client and Server: the
// yamux defaults, with yamux's own logging discarded.
func Config() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.LogOutput = io.Discard
	return cfg
}

// Client starts the client side of a yamux session on conn.
func Client(conn net.Conn) (*yamux.Session, error) {
	session, err := yamux.Client(conn, Config(), nil)
	if err != nil {
		return nil, fmt.Errorf("starting yamux client session: %w", err)
	}
	return session, nil
}

// Server starts the server side of a yamux session on conn.
func Server(conn net.Conn) (*yamux.Session, error) {
	session, err := yamux.Server(conn, Config(), nil)
	if err != nil {
		return nil, fmt.Errorf("starting yamux server session: %w", err)
	}
	return session, nil
}

// Connector opens a yamux stream per substream.
type Connector[Req, Res any] struct {
	session *yamux.Session
	req     codec.Codec[Req]
	res     codec.Codec[Res]
}

var _ duplexrpc.Connector[any, any] = (*Connector[any, any])(nil)

// NewConnector returns a connector for the client side of a service, using
// the given codecs for the service's request and response sets.
func NewConnector[Req, Res any](session *yamux.Session, req codec.Codec[Req], res codec.Codec[Res]) *Connector[Req, Res] {
	return &Connector[Req, Res]{session: session, req: req, res: res}
}

func (c *Connector[Req, Res]) Open(ctx context.Context) (duplexrpc.Sink[Req], duplexrpc.Source[Res], error) {
	stream, err := c.session.OpenStream(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("opening yamux stream: %w", err)
	}
	sink, src := framed.New[Res, Req](stream, c.res, c.req)
	return sink, src, nil
}

// Listener accepts the yamux streams opened by the peer.
type Listener[Req, Res any] struct {
	session *yamux.Session
	req     codec.Codec[Req]
	res     codec.Codec[Res]

	streams chan *yamux.Stream
	done    chan struct{}
	err     error

	closeOnce sync.Once
}

var _ duplexrpc.Listener[any, any] = (*Listener[any, any])(nil)

// NewListener returns a listener for the server side of a service. It takes
// over accepting streams on the session until the session is closed.
func NewListener[Req, Res any](session *yamux.Session, req codec.Codec[Req], res codec.Codec[Res]) *Listener[Req, Res] {
	l := &Listener[Req, Res]{
		session: session,
		req:     req,
		res:     res,
		streams: make(chan *yamux.Stream),
		done:    make(chan struct{}),
	}
	go l.acceptLoop()
	return l
}

func (l *Listener[Req, Res]) acceptLoop() {
	defer close(l.done)
	for {
		stream, err := l.session.AcceptStream()
		if err != nil {
			l.err = err
			return
		}
		select {
		case l.streams <- stream:
		case <-l.session.CloseChan():
			_ = stream.Reset()
			l.err = yamux.ErrSessionShutdown
			return
		}
	}
}

func (l *Listener[Req, Res]) Accept(ctx context.Context) (duplexrpc.Sink[Res], duplexrpc.Source[Req], error) {
	select {
	case stream := <-l.streams:
		sink, src := framed.New[Req, Res](stream, l.req, l.res)
		return sink, src, nil
	case <-l.done:
		// don't need lock to read l.err; observing done closing
		// provides safe visibility
		return nil, nil, fmt.Errorf("accepting yamux stream: %w", l.err)
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// Close closes the session, which also ends every substream on it.
func (l *Listener[Req, Res]) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.session.Close()
	})
	return err
}

// Package quicrpc carries substreams as QUIC streams of a single connection.
package quicrpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"go.uber.org/atomic"

	"github.com/jhump/duplexrpc"
	"github.com/jhump/duplexrpc/codec"
	"github.com/jhump/duplexrpc/transport/framed"
)

// ALPN is the application protocol negotiated by connections that carry
// substreams.
const ALPN = "duplexrpc/1"

// Config returns the QUIC configuration used by the dialing and listening
// sides.
func Config() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:      time.Second * 5,
		HandshakeIdleTimeout: time.Second * 3,
		MaxIdleTimeout:       time.Second * 15,
	}
}

// Connector opens a QUIC stream per substream.
type Connector[Req, Res any] struct {
	conn *quic.Conn
	req  codec.Codec[Req]
	res  codec.Codec[Res]
}

var _ duplexrpc.Connector[any, any] = (*Connector[any, any])(nil)

// NewConnector returns a connector for the client side of a service.
func NewConnector[Req, Res any](conn *quic.Conn, req codec.Codec[Req], res codec.Codec[Res]) *Connector[Req, Res] {
	return &Connector[Req, Res]{conn: conn, req: req, res: res}
}

// Open opens a stream, waiting if the peer's stream limit is reached.
func (c *Connector[Req, Res]) Open(ctx context.Context) (duplexrpc.Sink[Req], duplexrpc.Source[Res], error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("opening quic stream: %w", err)
	}
	sink, src := framed.New[Res, Req](&stream{Stream: s}, c.res, c.req)
	return sink, src, nil
}

// Listener accepts the QUIC streams opened by the peer.
type Listener[Req, Res any] struct {
	conn *quic.Conn
	req  codec.Codec[Req]
	res  codec.Codec[Res]

	closeOnce sync.Once
}

var _ duplexrpc.Listener[any, any] = (*Listener[any, any])(nil)

// NewListener returns a listener for the server side of a service.
func NewListener[Req, Res any](conn *quic.Conn, req codec.Codec[Req], res codec.Codec[Res]) *Listener[Req, Res] {
	return &Listener[Req, Res]{conn: conn, req: req, res: res}
}

func (l *Listener[Req, Res]) Accept(ctx context.Context) (duplexrpc.Sink[Res], duplexrpc.Source[Req], error) {
	s, err := l.conn.AcceptStream(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, nil, fmt.Errorf("accepting quic stream: %w", err)
	}
	sink, src := framed.New[Req, Res](&stream{Stream: s}, l.req, l.res)
	return sink, src, nil
}

// Close closes the connection.
func (l *Listener[Req, Res]) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.conn.CloseWithError(0, "listener closed")
	})
	return err
}

// stream adapts a QUIC stream to framed.Stream. Closing a QUIC stream only
// closes its send direction, so releasing it also stops reading.
type stream struct {
	*quic.Stream
	writeClosed atomic.Bool
}

func (s *stream) CloseWrite() error {
	if !s.writeClosed.CompareAndSwap(false, true) {
		return nil
	}
	return s.Stream.Close()
}

func (s *stream) Close() error {
	s.Stream.CancelRead(0)
	return s.CloseWrite()
}

package quicrpc_test

import (
	"context"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jhump/duplexrpc"
	"github.com/jhump/duplexrpc/examples/calculator"
	"github.com/jhump/duplexrpc/transport/quicrpc"
)

func connect(t *testing.T) (*quic.Conn, *quic.Conn) {
	t.Helper()
	tlsConf, err := quicrpc.SelfSignedTLS()
	require.NoError(t, err)
	lis, err := quic.ListenAddr("127.0.0.1:0", tlsConf, quicrpc.Config())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = lis.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	accepted := make(chan *quic.Conn, 1)
	go func() {
		conn, err := lis.Accept(ctx)
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()
	client, err := quic.DialAddr(ctx, lis.Addr().String(), quicrpc.InsecureClientTLS(), quicrpc.Config())
	require.NoError(t, err)
	server, ok := <-accepted
	require.True(t, ok)
	t.Cleanup(func() {
		_ = client.CloseWithError(0, "")
		_ = server.CloseWithError(0, "")
	})
	return client, server
}

func TestCalculator(t *testing.T) {
	clientConn, serverConn := connect(t)

	lis := quicrpc.NewListener(serverConn, calculator.RequestCodec, calculator.ResponseCodec)
	svr := duplexrpc.NewServer(calculator.Service, lis, duplexrpc.WithLogger(zaptest.NewLogger(t)))
	var calc calculator.Server
	errc := make(chan error, 1)
	go func() {
		errc <- svr.Serve(context.Background(), calc.Dispatch)
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, svr.Shutdown(ctx))
		assert.ErrorIs(t, <-errc, duplexrpc.ErrServerClosed)
	}()

	conn := quicrpc.NewConnector(clientConn, calculator.RequestCodec, calculator.ResponseCodec)
	client := duplexrpc.NewClient(calculator.Service, conn)
	ctx := context.Background()

	x, err := calculator.NewClient(ctx, client, "x")
	require.NoError(t, err)
	result, err := x.Set(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 100.0, result)
	result, err = x.Log(ctx, 10)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, result, 1e-9)
	result, err = x.Exp(ctx, 3)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, result, 1e-9)
	require.NoError(t, x.Close())
}

func TestListener_ConnectionClosed(t *testing.T) {
	clientConn, serverConn := connect(t)
	lis := quicrpc.NewListener(serverConn, calculator.RequestCodec, calculator.ResponseCodec)

	require.NoError(t, clientConn.CloseWithError(0, "bye"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := lis.Accept(ctx)
	assert.Error(t, err)
	assert.NoError(t, ctx.Err())
	_ = lis.Close()
}

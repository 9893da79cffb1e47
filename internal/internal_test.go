package internal

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jhump/duplexrpc"
	"github.com/jhump/duplexrpc/examples/calculator"
	"github.com/jhump/duplexrpc/transport/mem"
)

func TestSendCalls(t *testing.T) {
	conn, lis := mem.New[calculator.Request, calculator.Response](0)
	svr := duplexrpc.NewServer(calculator.Service, lis)
	var s calculator.Server
	errc := make(chan error, 1)
	go func() {
		errc <- svr.Serve(context.Background(), s.Dispatch)
	}()
	defer func() {
		require.NoError(t, svr.Shutdown(context.Background()))
		assert.ErrorIs(t, <-errc, duplexrpc.ErrServerClosed)
	}()

	client := duplexrpc.NewClient(calculator.Service, conn)
	count, err := SendCalls(context.Background(), client, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Positive(t, count)
}

func TestDialTCP(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() {
		_ = lis.Close()
	}()
	go func() {
		conn, err := lis.Accept()
		if err == nil {
			_ = conn.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := DialTCP(ctx, lis.Addr().String())
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestBlockingDial(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	gs := grpc.NewServer()
	go func() {
		_ = gs.Serve(lis)
	}()
	defer gs.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cc, err := BlockingDial(ctx, lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	assert.Equal(t, connectivity.Ready, cc.GetState())
	require.NoError(t, cc.Close())
}

func TestBlockingDial_Refused(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// the dial failure is reported rather than the context error, and
	// without waiting for the deadline
	_, err = BlockingDial(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	assert.ErrorContains(t, err, "connection refused")
	assert.NoError(t, ctx.Err())
}

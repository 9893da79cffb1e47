package mem

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func open(t *testing.T, window uint32) (*Sink[string], *Source[int], *Sink[int], *Source[string]) {
	t.Helper()
	conn, lis := New[string, int](window)
	t.Cleanup(func() {
		_ = lis.Close()
	})
	type accepted struct {
		sink *Sink[int]
		src  *Source[string]
	}
	acceptc := make(chan accepted, 1)
	go func() {
		sink, src, err := lis.Accept(context.Background())
		if !assert.NoError(t, err) {
			close(acceptc)
			return
		}
		acceptc <- accepted{sink.(*Sink[int]), src.(*Source[string])}
	}()
	sink, src, err := conn.Open(context.Background())
	require.NoError(t, err)
	a, ok := <-acceptc
	require.True(t, ok)
	return sink.(*Sink[string]), src.(*Source[int]), a.sink, a.src
}

func TestSubstream(t *testing.T) {
	ctx := context.Background()
	reqs, resps, svrResps, svrReqs := open(t, 0)

	require.NoError(t, reqs.Send(ctx, "a"))
	require.NoError(t, reqs.Send(ctx, "b"))
	require.NoError(t, reqs.Close())
	// closing again is harmless
	require.NoError(t, reqs.Close())
	assert.ErrorIs(t, reqs.Send(ctx, "c"), ErrClosed)

	for _, want := range []string{"a", "b"} {
		got, err := svrReqs.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := svrReqs.Recv(ctx)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, svrResps.Send(ctx, 1))
	require.NoError(t, svrResps.Close())
	got, err := resps.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
	_, err = resps.Recv(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestBackpressure(t *testing.T) {
	ctx := context.Background()
	reqs, _, _, svrReqs := open(t, 2)

	require.NoError(t, reqs.Send(ctx, "a"))
	require.NoError(t, reqs.Send(ctx, "b"))

	// the window is exhausted
	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, reqs.Send(shortCtx, "c"), context.DeadlineExceeded)

	// receiving opens it up again
	sent := make(chan error, 1)
	go func() {
		sent <- reqs.Send(ctx, "c")
	}()
	select {
	case err := <-sent:
		t.Fatalf("send should block while window is exhausted, got %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	got, err := svrReqs.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", got)
	require.NoError(t, <-sent)

	for _, want := range []string{"b", "c"} {
		got, err := svrReqs.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestReaderGoesAway(t *testing.T) {
	ctx := context.Background()
	reqs, _, _, svrReqs := open(t, 1)

	require.NoError(t, reqs.Send(ctx, "a"))
	blocked := make(chan error, 1)
	go func() {
		blocked <- reqs.Send(ctx, "b")
	}()
	require.NoError(t, svrReqs.Close())
	assert.ErrorIs(t, <-blocked, ErrReset)
	assert.ErrorIs(t, reqs.Send(ctx, "c"), ErrReset)

	_, err := svrReqs.Recv(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRecvContext(t *testing.T) {
	_, resps, _, _ := open(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := resps.Recv(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListenerClose(t *testing.T) {
	conn, lis := New[string, int](0)
	ctx := context.Background()

	accepted := make(chan error, 1)
	go func() {
		_, _, err := lis.Accept(ctx)
		accepted <- err
	}()
	require.NoError(t, lis.Close())
	require.NoError(t, lis.Close())
	assert.ErrorIs(t, <-accepted, ErrListenerClosed)

	_, _, err := conn.Open(ctx)
	assert.ErrorIs(t, err, ErrListenerClosed)
}

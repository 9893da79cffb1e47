package internal

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
)

// DialTCP dials the given address with TCP keepalives enabled, the same way
// gRPC dials by default. It is used to carry yamux sessions.
func DialTCP(ctx context.Context, addr string) (net.Conn, error) {
	return keepaliveDialer().DialContext(ctx, "tcp", addr)
}

// Copied from grpc-go's internal.NetDialerWithTCPKeepalive function, which
// is the default dial behavior.
func keepaliveDialer() *net.Dialer {
	return &net.Dialer{
		// Setting a negative value here prevents the Go stdlib from overriding
		// the values of TCP keepalive time and interval. It also prevents the
		// Go stdlib from enabling TCP keepalives by default.
		KeepAlive: time.Duration(-1),
		// This method is called after the underlying network socket is created,
		// but before dialing the socket (or calling its connect() method). The
		// combination of unconditionally enabling TCP keepalives here, and
		// disabling the overriding of TCP keepalive parameters by setting the
		// KeepAlive field to a negative value above, results in OS defaults for
		// the TCP keepalive interval and time parameters.
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
			})
		},
	}
}

// BlockingDial creates a gRPC client conn for carrying substreams with the
// grpcstream transport, and waits for it to become ready.
//
// If ctx ends first, the most recent dial error is returned, or the context
// error if no dial has failed yet. A dial error that is not temporary stops
// waiting right away.
func BlockingDial(ctx context.Context, addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var dials dialErrors
	dialer := keepaliveDialer()
	cc, err := grpc.NewClient(addr, append(opts,
		grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				dials.record(err)
				if !isTemporary(err) {
					cancel()
				}
			}
			return conn, err
		}))...,
	)
	if err != nil {
		return nil, err
	}
	cc.Connect()
	for state := cc.GetState(); state != connectivity.Ready; state = cc.GetState() {
		if cc.WaitForStateChange(ctx, state) {
			continue
		}
		_ = cc.Close()
		if err := dials.last(); err != nil {
			return nil, err
		}
		return nil, ctx.Err()
	}
	return cc, nil
}

// dialErrors remembers the most recent failed dial of a client conn.
type dialErrors struct {
	mu  sync.Mutex
	err error
}

func (d *dialErrors) record(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *dialErrors) last() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// isTemporary reports whether a dial error may go away on retry, the way
// grpc-go decides whether to keep reconnecting.
func isTemporary(err error) bool {
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) {
		return timeout.Timeout()
	}
	return true
}

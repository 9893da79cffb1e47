package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/jhump/duplexrpc"
	"github.com/jhump/duplexrpc/examples/calculator"
	"github.com/jhump/duplexrpc/internal"
	"github.com/jhump/duplexrpc/transport/grpcstream"
	"github.com/jhump/duplexrpc/transport/quicrpc"
	"github.com/jhump/duplexrpc/transport/yamuxrpc"
)

var app = &cli.App{
	Name:            "calcsvr",
	Usage:           "serve the calculator example over yamux, QUIC or gRPC",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		internal.VerboseFlag,
		&cli.StringFlag{
			Name:  "network",
			Value: "tcp",
			Usage: "transport to listen with: tcp (yamux), quic or grpc",
		},
		&cli.StringFlag{
			Name:  "addr",
			Value: "127.0.0.1:26354",
			Usage: "the address on which this server will listen",
		},
		&cli.DurationFlag{
			Name:  "shutdown-timeout",
			Value: 5 * time.Second,
			Usage: "how long to wait for calls in flight when stopping",
		},
	},
	Before: internal.ConfigLogger,
	Action: run,
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger := internal.Logger(c)
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := &calculator.Server{}
	addr := c.String("addr")
	timeout := c.Duration("shutdown-timeout")
	switch network := c.String("network"); network {
	case "tcp":
		return serveYamux(ctx, logger, s, addr, timeout)
	case "quic":
		return serveQUIC(ctx, logger, s, addr, timeout)
	case "grpc":
		return serveGRPC(ctx, logger, s, addr, timeout)
	default:
		return fmt.Errorf("unknown network %q", network)
	}
}

// serve runs a duplexrpc server on l until ctx is done, then shuts it down.
func serve(ctx context.Context, logger *zap.Logger, s *calculator.Server, l duplexrpc.Listener[calculator.Request, calculator.Response], timeout time.Duration) error {
	svr := duplexrpc.NewServer(calculator.Service, l, duplexrpc.WithLogger(logger))
	errc := make(chan error, 1)
	go func() {
		errc <- svr.Serve(ctx, s.Dispatch)
	}()
	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if shutdownErr := svr.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("Failed to shut down cleanly", zap.Error(shutdownErr))
	}
	if errors.Is(err, duplexrpc.ErrServerClosed) {
		return nil
	}
	return err
}

func serveYamux(ctx context.Context, logger *zap.Logger, s *calculator.Server, addr string, timeout time.Duration) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.Info("Listening", zap.String("network", "tcp"), zap.String("addr", lis.Addr().String()))
	context.AfterFunc(ctx, func() {
		_ = lis.Close()
	})

	var grp errgroup.Group
	defer func() {
		_ = grp.Wait()
	}()
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		grp.Go(func() error {
			connLogger := logger.With(zap.String("remote", conn.RemoteAddr().String()))
			session, err := yamuxrpc.Server(conn)
			if err != nil {
				connLogger.Warn("Failed to start session", zap.Error(err))
				_ = conn.Close()
				return nil
			}
			l := yamuxrpc.NewListener(session, calculator.RequestCodec, calculator.ResponseCodec)
			if err := serve(ctx, connLogger, s, l, timeout); err != nil {
				connLogger.Debug("Session ended", zap.Error(err))
			}
			return nil
		})
	}
}

func serveQUIC(ctx context.Context, logger *zap.Logger, s *calculator.Server, addr string, timeout time.Duration) error {
	tlsConf, err := quicrpc.SelfSignedTLS()
	if err != nil {
		return err
	}
	lis, err := quic.ListenAddr(addr, tlsConf, quicrpc.Config())
	if err != nil {
		return err
	}
	defer func() {
		_ = lis.Close()
	}()
	logger.Info("Listening", zap.String("network", "quic"), zap.String("addr", lis.Addr().String()))

	var grp errgroup.Group
	defer func() {
		_ = grp.Wait()
	}()
	for {
		conn, err := lis.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		grp.Go(func() error {
			connLogger := logger.With(zap.String("remote", conn.RemoteAddr().String()))
			l := quicrpc.NewListener(conn, calculator.RequestCodec, calculator.ResponseCodec)
			if err := serve(ctx, connLogger, s, l, timeout); err != nil {
				connLogger.Debug("Connection ended", zap.Error(err))
			}
			return nil
		})
	}
}

func serveGRPC(ctx context.Context, logger *zap.Logger, s *calculator.Server, addr string, timeout time.Duration) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.Info("Listening", zap.String("network", "grpc"), zap.String("addr", lis.Addr().String()))

	gsvr := grpc.NewServer()
	l := grpcstream.Register(gsvr, calculator.RequestCodec, calculator.ResponseCodec)

	var grp errgroup.Group
	grp.Go(func() error {
		return gsvr.Serve(lis)
	})
	grp.Go(func() error {
		defer gsvr.GracefulStop()
		return serve(ctx, logger, s, l, timeout)
	})
	return grp.Wait()
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fullstorydev/grpchan"
	"github.com/quic-go/quic-go"
	"github.com/urfave/cli/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jhump/duplexrpc"
	"github.com/jhump/duplexrpc/examples/calculator"
	"github.com/jhump/duplexrpc/internal"
	"github.com/jhump/duplexrpc/transport/grpcstream"
	"github.com/jhump/duplexrpc/transport/quicrpc"
	"github.com/jhump/duplexrpc/transport/yamuxrpc"
)

var app = &cli.App{
	Name:            "calcclient",
	Usage:           "make calculator calls over yamux, QUIC or gRPC",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		internal.VerboseFlag,
		&cli.StringFlag{
			Name:  "network",
			Value: "tcp",
			Usage: "transport to connect with: tcp (yamux), quic or grpc",
		},
		&cli.StringFlag{
			Name:  "addr",
			Value: "127.0.0.1:26354",
			Usage: "the address on which the server is listening",
		},
		&cli.DurationFlag{
			Name:  "duration",
			Value: 5 * time.Second,
			Usage: "how long to keep making calls",
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

type calcClient = duplexrpc.Client[calculator.Request, calculator.Response]

func run(c *cli.Context) error {
	logger := internal.Logger(c)
	defer func() {
		_ = logger.Sync()
	}()
	ctx := c.Context

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var streams atomic.Int32
	client, closeFn, err := connect(dialCtx, c.String("network"), c.String("addr"), &streams)
	if err != nil {
		return err
	}
	defer closeFn()
	logger.Info("Connected", zap.String("network", c.String("network")), zap.String("addr", c.String("addr")))

	// First a single call, answered step by step.
	calc, err := calculator.NewClient(ctx, client, "x")
	if err != nil {
		return err
	}
	for _, step := range []struct {
		name string
		fn   func(context.Context, float64) (float64, error)
		arg  float64
	}{
		{"set", calc.Set, 3},
		{"add", calc.Add, 4},
		{"multiply", calc.Multiply, 6},
		{"exp", calc.Exp, 0.5},
	} {
		result, err := step.fn(ctx, step.arg)
		if err != nil {
			_ = calc.Close()
			return err
		}
		logger.Info("Answer", zap.String("op", step.name), zap.Float64("arg", step.arg), zap.Float64("result", result))
	}
	if err := calc.Close(); err != nil {
		return err
	}

	// Then a batch of concurrent calls.
	count, err := internal.SendCalls(ctx, client, c.Duration("duration"))
	if err != nil {
		return err
	}
	logger.Info("Issued calls", zap.Int64("calls", count))
	if n := streams.Load(); n > 0 {
		logger.Info("Opened gRPC streams", zap.Int32("streams", n))
	}
	return nil
}

func connect(ctx context.Context, network, addr string, streams *atomic.Int32) (*calcClient, func(), error) {
	switch network {
	case "tcp":
		conn, err := internal.DialTCP(ctx, addr)
		if err != nil {
			return nil, nil, err
		}
		session, err := yamuxrpc.Client(conn)
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		connector := yamuxrpc.NewConnector(session, calculator.RequestCodec, calculator.ResponseCodec)
		return duplexrpc.NewClient(calculator.Service, connector), func() { _ = session.Close() }, nil
	case "quic":
		conn, err := quic.DialAddr(ctx, addr, quicrpc.InsecureClientTLS(), quicrpc.Config())
		if err != nil {
			return nil, nil, err
		}
		connector := quicrpc.NewConnector(conn, calculator.RequestCodec, calculator.ResponseCodec)
		return duplexrpc.NewClient(calculator.Service, connector), func() { _ = conn.CloseWithError(0, "done") }, nil
	case "grpc":
		cc, err := internal.BlockingDial(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, err
		}
		connector := grpcstream.NewConnector(withStreamCounts(cc, streams), calculator.RequestCodec, calculator.ResponseCodec)
		return duplexrpc.NewClient(calculator.Service, connector), func() { _ = cc.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown network %q", network)
	}
}

func withStreamCounts(ch grpc.ClientConnInterface, counts *atomic.Int32) grpc.ClientConnInterface {
	return grpchan.InterceptClientConn(
		ch,
		nil,
		func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
			counts.Inc()
			return streamer(ctx, desc, cc, method, opts...)
		},
	)
}

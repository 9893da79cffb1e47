package duplexrpc

import "go.uber.org/zap"

// ServerOption is an option for configuring the behavior of a Server.
type ServerOption interface {
	apply(*serverOpts)
}

// WithLogger returns an option that makes the server log failed accepts and
// failed calls to the given logger. By default nothing is logged.
//
// Only Serve logs; Accept and the pattern handlers report every failure to
// their caller and never log.
func WithLogger(logger *zap.Logger) ServerOption {
	return serverOptFunc(func(opts *serverOpts) {
		opts.logger = logger
	})
}

type serverOpts struct {
	logger *zap.Logger
}

func (o *serverOpts) logOrNop() *zap.Logger {
	if o.logger == nil {
		return zap.NewNop()
	}
	return o.logger
}

type serverOptFunc func(*serverOpts)

func (f serverOptFunc) apply(opts *serverOpts) {
	f(opts)
}

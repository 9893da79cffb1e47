package duplexrpc

import "context"

type (
	callIDContextKey      struct{}
	serviceNameContextKey struct{}
)

// CallIDFromContext provides server-side access to the ID of the call being
// handled. It is available in the context given to the dispatch function of
// Server.Serve and everything derived from it.
func CallIDFromContext(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(callIDContextKey{}).(uint64)
	return id, ok
}

// ServiceNameFromContext returns the name of the service the call being
// handled belongs to.
func ServiceNameFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(serviceNameContextKey{}).(string)
	return name, ok
}

func newCallContext(ctx context.Context, service string, id uint64) context.Context {
	ctx = context.WithValue(ctx, serviceNameContextKey{}, service)
	return context.WithValue(ctx, callIDContextKey{}, id)
}

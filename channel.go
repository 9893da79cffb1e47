package duplexrpc

import (
	"errors"

	"go.uber.org/atomic"
)

// Channel is the server side of one accepted substream. It owns both halves
// of the substream for the duration of a single call: handlers such as
// ServeBidi take the channel over and close it when the call ends.
type Channel[Req, Res any] struct {
	id     uint64
	sink   Sink[Res]
	src    Source[Req]
	closed atomic.Bool
}

// NewChannel wraps the two halves of an accepted substream. Servers normally
// obtain channels from Server.Accept instead.
func NewChannel[Req, Res any](id uint64, sink Sink[Res], src Source[Req]) *Channel[Req, Res] {
	return &Channel[Req, Res]{id: id, sink: sink, src: src}
}

// ID returns the identifier the server assigned to the call. IDs are unique
// per Server.
func (c *Channel[Req, Res]) ID() uint64 {
	return c.id
}

// Close releases both halves of the substream. Only the first call reaches
// the transport.
func (c *Channel[Req, Res]) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return errors.Join(c.sink.Close(), c.src.Close())
}

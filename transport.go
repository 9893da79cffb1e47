package duplexrpc

import "context"

// Sink is the outgoing half of a substream.
//
// Send may block until the transport has capacity for the message. Messages
// sent on one sink are delivered in the order they were sent. Close ends the
// outgoing half; the peer observes it as a clean end of its incoming half.
type Sink[T any] interface {
	Send(ctx context.Context, msg T) error
	Close() error
}

// Source is the incoming half of a substream.
//
// Recv returns io.EOF once the peer has closed its outgoing half and all
// messages before that have been received. Close releases the substream; any
// messages not yet received are discarded.
type Source[T any] interface {
	Recv(ctx context.Context) (T, error)
	Close() error
}

// Connector opens substreams on a connection. In is the type of messages
// received from the peer and Out the type of messages sent to it. For a
// client of a Service[Req, Res], In is Res and Out is Req.
type Connector[In, Out any] interface {
	// Open establishes a new substream. Every call gets its own substream.
	Open(ctx context.Context) (Sink[Out], Source[In], error)
}

// Listener accepts substreams opened by a peer's Connector. For a server of a
// Service[Req, Res], In is Req and Out is Res.
type Listener[In, Out any] interface {
	// Accept blocks until the peer opens a substream.
	Accept(ctx context.Context) (Sink[Out], Source[In], error)
	// Close stops accepting substreams. Substreams already accepted are not
	// affected.
	Close() error
}

// Package duplexrpc provides typed RPC calls carried over transport
// substreams: every call opens its own duplex substream inside a longer-lived
// connection, sends one request, and then exchanges further messages on that
// substream.
//
// A protocol is described by a [Service], which names the two closed message
// sets of the protocol: one for client-to-server traffic and one for
// server-to-client traffic. Each concrete message type is bound to exactly one
// variant of its set by a [Converter]. Wrapping a value into its set can never
// fail; recovering it from the set is a single tag check that can.
//
// Methods are described by pattern descriptors. This package implements the
// bidirectional streaming pattern (see [BidiStreaming]): after the initial
// request the client may send any number of updates, and the server may send
// any number of responses, until either side is done.
//
// The client side of a call is started with [Bidi], which returns an
// [UpdateSink] for updates and a [ResponseStream] for responses. The server
// side accepts substreams with a [Server] and handles each call with
// [ServeBidi], which hands an [UpdateStream] to an application handler and
// forwards the responses the handler produces. If the update stream fails
// while responses are still being sent, sending stops promptly and the call
// fails with the update stream's error.
//
// The transport itself is pluggable: anything that can open and accept
// substreams of typed values (see [Connector] and [Listener]) will do. The
// transport sub-packages provide implementations over in-process queues,
// yamux sessions, QUIC connections and gRPC streams.
package duplexrpc

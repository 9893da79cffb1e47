package duplexrpc

// Service identifies a protocol and its two message sets. Req is the set of
// messages a client sends to a server and Res the set a server sends back.
//
// Both sets should be closed sum types: either a sealed interface (one with an
// unexported marker method, implemented only by the protocol's own message
// types) or a protocol buffer message whose payload is a oneof. Every concrete
// message type used by the protocol must map to exactly one variant of one of
// these sets, via a Converter.
//
// A Service value carries no state; it exists to tie descriptors, clients and
// servers to the same pair of message sets at compile time.
type Service[Req, Res any] struct {
	Name string
}

// Converter maps a concrete message type T to and from the message set W.
//
// Wrap must be lossless: for every value t, Unwrap(Wrap(t)) must return a
// value equal to t and true. Unwrap returns false when the given message is a
// different variant of W.
type Converter[W, T any] interface {
	Wrap(T) W
	Unwrap(W) (T, bool)
}

// Convert returns a Converter that uses the given functions.
func Convert[W, T any](wrap func(T) W, unwrap func(W) (T, bool)) Converter[W, T] {
	return convertFuncs[W, T]{wrap: wrap, unwrap: unwrap}
}

// Variant returns a Converter for a message set that is a sealed interface
// which T implements. Unwrap is a type assertion to T.
//
//	type Request interface{ isRequest() }
//	type Ping struct{}
//	func (Ping) isRequest() {}
//
//	var pingConv = duplexrpc.Variant(func(p Ping) Request { return p })
func Variant[W, T any](wrap func(T) W) Converter[W, T] {
	return convertFuncs[W, T]{
		wrap: wrap,
		unwrap: func(w W) (T, bool) {
			t, ok := any(w).(T)
			return t, ok
		},
	}
}

// Unsupported returns a Converter whose Unwrap always fails. It is meant for
// methods that reuse a type that is not really part of the exchange, for
// example a method that accepts no updates may use its request type as the
// update type. Any such update received by a server is rejected as an
// unexpected message.
func Unsupported[W, T any](wrap func(T) W) Converter[W, T] {
	return convertFuncs[W, T]{
		wrap: wrap,
		unwrap: func(W) (T, bool) {
			var zero T
			return zero, false
		},
	}
}

type convertFuncs[W, T any] struct {
	wrap   func(T) W
	unwrap func(W) (T, bool)
}

func (c convertFuncs[W, T]) Wrap(t T) W {
	return c.wrap(t)
}

func (c convertFuncs[W, T]) Unwrap(w W) (T, bool) {
	return c.unwrap(w)
}

// InteractionPattern is the shape of a call, independent of the concrete
// message types involved.
type InteractionPattern interface {
	String() string
	isInteractionPattern()
}

// Msg binds a concrete request type M to a Service, a method name and an
// interaction pattern. Pattern descriptors, such as *BidiStreaming, implement
// it and add the pattern's update and response types.
type Msg[Req, Res, M any] interface {
	Service() Service[Req, Res]
	Method() string
	Pattern() InteractionPattern
	Request() Converter[Req, M]
}

// Package codec converts message sets to and from bytes, for transports that
// carry frames of bytes rather than Go values.
package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Codec marshals and unmarshals values of one message set.
//
// Unmarshal must not retain the given slice: transports reuse frame buffers
// once it returns.
type Codec[T any] interface {
	Marshal(T) ([]byte, error)
	Unmarshal([]byte) (T, error)
}

// Proto returns a codec for a protocol buffer message type. The given
// function must return a new, empty message to unmarshal into.
func Proto[T proto.Message](newMessage func() T) Codec[T] {
	return protoCodec[T]{newMessage: newMessage}
}

type protoCodec[T proto.Message] struct {
	newMessage func() T
}

func (c protoCodec[T]) Marshal(msg T) ([]byte, error) {
	b, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshalling %T: %w", msg, err)
	}
	return b, nil
}

func (c protoCodec[T]) Unmarshal(b []byte) (T, error) {
	msg := c.newMessage()
	if err := proto.Unmarshal(b, msg); err != nil {
		var zero T
		return zero, fmt.Errorf("unmarshalling %T: %w", msg, err)
	}
	return msg, nil
}

// Map returns a codec for T that converts values to and from P and uses the
// given codec for P. It is how a message set that is a sealed Go interface is
// carried in a protocol buffer envelope.
func Map[T, P any](inner Codec[P], to func(T) (P, error), from func(P) (T, error)) Codec[T] {
	return mapCodec[T, P]{inner: inner, to: to, from: from}
}

type mapCodec[T, P any] struct {
	inner Codec[P]
	to    func(T) (P, error)
	from  func(P) (T, error)
}

func (c mapCodec[T, P]) Marshal(v T) ([]byte, error) {
	p, err := c.to(v)
	if err != nil {
		return nil, err
	}
	return c.inner.Marshal(p)
}

func (c mapCodec[T, P]) Unmarshal(b []byte) (T, error) {
	p, err := c.inner.Unmarshal(b)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.from(p)
}

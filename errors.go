package duplexrpc

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrUnexpectedMessage is reported when a message was received but is not
	// the variant the receiver expected. It usually indicates that the peers
	// disagree about the protocol.
	ErrUnexpectedMessage = errors.New("unexpected message")
	// ErrClosed is returned when sending on a sink that is already closed.
	ErrClosed = errors.New("substream already closed")
	// ErrEarlyClose is returned by Server.Accept when a substream ends before
	// its initial request arrives.
	ErrEarlyClose = errors.New("substream closed before request was received")
	// ErrServerClosed is returned by Server.Serve and Server.Accept after
	// Server.Shutdown has been called.
	ErrServerClosed = errors.New("server closed")
)

// OpenError is returned when a substream could not be opened. It wraps the
// transport's error.
type OpenError struct {
	Err error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("opening substream: %v", e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// GRPCStatus reports the error as a gRPC status, so it can be returned as is
// from gRPC handlers.
func (e *OpenError) GRPCStatus() *status.Status {
	return transportStatus(e.Err, "opening substream")
}

// SendError is returned when a message could not be sent on an established
// substream. It wraps the transport's error.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sending message: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

func (e *SendError) GRPCStatus() *status.Status {
	return transportStatus(e.Err, "sending message")
}

// RecvError is reported when a message could not be read from an established
// substream. It wraps the transport's error.
type RecvError struct {
	Err error
}

func (e *RecvError) Error() string {
	return fmt.Sprintf("receiving message: %v", e.Err)
}

func (e *RecvError) Unwrap() error {
	return e.Err
}

func (e *RecvError) GRPCStatus() *status.Status {
	return transportStatus(e.Err, "receiving message")
}

// DowncastError is reported when a received message is a variant other than
// the one expected. errors.Is(err, ErrUnexpectedMessage) is true for it.
type DowncastError struct {
	// Method is the method whose message could not be recovered.
	Method string
	// Got is the Go type of the message that was received.
	Got string
	// Want is the Go type that was expected.
	Want string
}

func (e *DowncastError) Error() string {
	return fmt.Sprintf("%s: %v: got %s, want %s", e.Method, ErrUnexpectedMessage, e.Got, e.Want)
}

func (e *DowncastError) Unwrap() error {
	return ErrUnexpectedMessage
}

func (e *DowncastError) GRPCStatus() *status.Status {
	return status.New(codes.Internal, e.Error())
}

// AcceptError is returned by Server.Accept when the listener fails to accept
// a substream. The listener is presumed unusable afterwards.
type AcceptError struct {
	Err error
}

func (e *AcceptError) Error() string {
	return fmt.Sprintf("accepting substream: %v", e.Err)
}

func (e *AcceptError) Unwrap() error {
	return e.Err
}

func (e *AcceptError) GRPCStatus() *status.Status {
	return transportStatus(e.Err, "accepting substream")
}

func newDowncastError[W, T any](method string, got W) *DowncastError {
	var want T
	return &DowncastError{
		Method: method,
		Got:    fmt.Sprintf("%T", got),
		Want:   fmt.Sprintf("%T", want),
	}
}

func transportStatus(err error, op string) *status.Status {
	if err == nil {
		return status.New(codes.Unknown, op)
	}
	if st, ok := status.FromError(err); ok {
		return st
	}
	if st := status.FromContextError(err); st.Code() != codes.Unknown {
		return status.New(st.Code(), fmt.Sprintf("%s: %v", op, err))
	}
	return status.New(codes.Unavailable, fmt.Sprintf("%s: %v", op, err))
}

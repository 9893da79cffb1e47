package duplexrpc_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jhump/duplexrpc"
)

func TestErrorStatus(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"open failure", &duplexrpc.OpenError{Err: errors.New("connection refused")}, codes.Unavailable},
		{"open timeout", &duplexrpc.OpenError{Err: context.DeadlineExceeded}, codes.DeadlineExceeded},
		{"send cancelled", &duplexrpc.SendError{Err: context.Canceled}, codes.Canceled},
		{"recv with status", &duplexrpc.RecvError{Err: status.Error(codes.PermissionDenied, "no")}, codes.PermissionDenied},
		{"accept failure", &duplexrpc.AcceptError{Err: errors.New("closed")}, codes.Unavailable},
		{"downcast", &duplexrpc.DowncastError{Method: "adder/sum", Got: "*a", Want: "*b"}, codes.Internal},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, status.Code(tc.err))
		})
	}
}

func TestErrorWrapping(t *testing.T) {
	inner := errors.New("broken pipe")
	for _, err := range []error{
		&duplexrpc.OpenError{Err: inner},
		&duplexrpc.SendError{Err: inner},
		&duplexrpc.RecvError{Err: inner},
		&duplexrpc.AcceptError{Err: inner},
	} {
		assert.ErrorIs(t, err, inner)
		assert.Contains(t, err.Error(), "broken pipe")
	}

	err := &duplexrpc.DowncastError{Method: "adder/sum", Got: "*a", Want: "*b"}
	assert.ErrorIs(t, err, duplexrpc.ErrUnexpectedMessage)
	assert.Equal(t, "adder/sum: unexpected message: got *a, want *b", err.Error())
}

package duplexrpc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhump/duplexrpc"
)

func TestVariant(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		for _, u := range []*add{{N: 0}, {N: 1}, {N: -42}} {
			got, ok := sumMethod.Update().Unwrap(sumMethod.Update().Wrap(u))
			require.True(t, ok)
			assert.Equal(t, u, got)
		}
		for _, r := range []*total{{Sum: 0}, {Sum: 99}} {
			got, ok := sumMethod.Response().Unwrap(sumMethod.Response().Wrap(r))
			require.True(t, ok)
			assert.Equal(t, r, got)
		}
	})
	t.Run("other variants", func(t *testing.T) {
		_, ok := sumMethod.Update().Unwrap(&ping{})
		assert.False(t, ok)
		_, ok = sumMethod.Update().Unwrap(&start{Base: 1})
		assert.False(t, ok)
		_, ok = sumMethod.Response().Unwrap(&note{Text: "hi"})
		assert.False(t, ok)
	})
}

func TestConvert(t *testing.T) {
	// a message set that is not a sealed interface
	type envelope struct {
		kind  string
		value int
	}
	conv := duplexrpc.Convert(
		func(n int) envelope { return envelope{kind: "int", value: n} },
		func(e envelope) (int, bool) { return e.value, e.kind == "int" },
	)
	got, ok := conv.Unwrap(conv.Wrap(7))
	require.True(t, ok)
	assert.Equal(t, 7, got)
	_, ok = conv.Unwrap(envelope{kind: "string"})
	assert.False(t, ok)
}

func TestUnsupported(t *testing.T) {
	// a method whose updates reuse its request type
	conv := duplexrpc.Unsupported(func(s *start) request { return s })
	msg := conv.Wrap(&start{Base: 1})
	assert.Equal(t, &start{Base: 1}, msg)
	_, ok := conv.Unwrap(msg)
	assert.False(t, ok)
}

func TestBidiStreamingDescriptor(t *testing.T) {
	assert.Equal(t, testService, sumMethod.Service())
	assert.Equal(t, "adder/sum", sumMethod.Method())
	assert.Equal(t, duplexrpc.BidiStreamingPattern{}, sumMethod.Pattern())
	assert.Equal(t, "bidi-streaming", sumMethod.Pattern().String())

	req, ok := sumMethod.Match(&start{Base: 3})
	require.True(t, ok)
	assert.Equal(t, 3, req.Base)
	_, ok = sumMethod.Match(&add{N: 3})
	assert.False(t, ok)

	var msg duplexrpc.Msg[request, response, *start] = sumMethod
	assert.Equal(t, "adder/sum", msg.Method())
}

func TestNewBidiStreaming_NilConverter(t *testing.T) {
	req := duplexrpc.Variant(func(s *start) request { return s })
	upd := duplexrpc.Variant(func(a *add) request { return a })
	res := duplexrpc.Variant(func(t *total) response { return t })
	assert.PanicsWithValue(t, "duplexrpc: adder/sum: nil request converter", func() {
		duplexrpc.NewBidiStreaming[request, response, *start, *add, *total](testService, "sum", nil, upd, res)
	})
	assert.PanicsWithValue(t, "duplexrpc: adder/sum: nil update converter", func() {
		duplexrpc.NewBidiStreaming[request, response, *start, *add, *total](testService, "sum", req, nil, res)
	})
	assert.PanicsWithValue(t, "duplexrpc: adder/sum: nil response converter", func() {
		duplexrpc.NewBidiStreaming[request, response, *start, *add, *total](testService, "sum", req, upd, nil)
	})
}

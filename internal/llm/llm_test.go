package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCaller struct {
	text string
}

func (s staticCaller) Call(ctx context.Context, model, user, system string, params map[string]any) (Result, error) {
	return Result{Text: s.text}, nil
}

func TestRegistry_ResolveByPrefix(t *testing.T) {
	r := NewRegistry()
	r.Register("gemini-", staticCaller{text: "g"})
	r.Register("gemini-2.0-", staticCaller{text: "g2"})

	c, err := r.Resolve("gemini-1.5-pro")
	require.NoError(t, err)
	res, _ := c.Call(context.Background(), "gemini-1.5-pro", "", "", nil)
	assert.Equal(t, "g", res.Text)

	// Longest prefix wins.
	c, err = r.Resolve("gemini-2.0-flash")
	require.NoError(t, err)
	res, _ = c.Call(context.Background(), "gemini-2.0-flash", "", "", nil)
	assert.Equal(t, "g2", res.Text)
}

func TestRegistry_UnknownModel(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("claude-3")
	require.Error(t, err)
	var ce *CallError
	assert.True(t, errors.As(err, &ce))
	assert.Contains(t, err.Error(), "no provider registered")
}

func TestIsCancellation(t *testing.T) {
	assert.True(t, IsCancellation(context.Canceled))
	assert.True(t, IsCancellation(context.DeadlineExceeded))
	assert.False(t, IsCancellation(errors.New("boom")))
	assert.False(t, IsCancellation(&CallError{Message: "500"}))
}

func TestFloatParam_NumericShapes(t *testing.T) {
	params := map[string]any{
		"a": float64(0.5),
		"b": 2,
		"c": int64(3),
		"d": "not a number",
	}
	v, ok := floatParam(params, "a")
	assert.True(t, ok)
	assert.Equal(t, 0.5, v)

	v, ok = floatParam(params, "b")
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)

	v, ok = floatParam(params, "c")
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)

	_, ok = floatParam(params, "d")
	assert.False(t, ok)
	_, ok = floatParam(params, "missing")
	assert.False(t, ok)
}

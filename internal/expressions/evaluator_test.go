package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvaluator(t *testing.T) {
	e, err := NewEvaluator(nil)
	require.NoError(t, err)
	assert.NotNil(t, e)
}

// --- Dialect routing ---

func TestEvaluator_DialectRouting(t *testing.T) {
	e, err := NewEvaluator(nil)
	require.NoError(t, err)
	data := map[string]any{"n": 2}

	t.Run("default is expr", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "n + 1", data)
		require.NoError(t, err)
		assert.Equal(t, 3, out)
	})

	t.Run("cel prefix", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "cel:record.n == 2", data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("jq prefix", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "jq:.n * 2", data)
		require.NoError(t, err)
		assert.Equal(t, float64(4), out)
	})
}

func TestEvaluator_CheckRoutesByDialect(t *testing.T) {
	e, err := NewEvaluator(nil)
	require.NoError(t, err)

	require.NoError(t, e.Check("a == 1"))
	require.NoError(t, e.Check("cel:record.a == 1"))
	require.NoError(t, e.Check("jq:.a"))
	require.Error(t, e.Check("a +"))
	require.Error(t, e.Check("cel:record."))
	require.Error(t, e.Check("jq:.[bad"))
}

// --- Boolean coercion ---

func TestEvaluator_EvaluateBool(t *testing.T) {
	e, err := NewEvaluator(nil)
	require.NoError(t, err)

	ok, err := e.EvaluateBool(context.Background(), `"non-empty"`, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateBool(context.Background(), "0", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy(0.0))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy([]any{}))
	assert.False(t, Truthy(map[string]any{}))

	assert.True(t, Truthy(true))
	assert.True(t, Truthy(1))
	assert.True(t, Truthy(-0.5))
	assert.True(t, Truthy("x"))
	assert.True(t, Truthy([]any{nil}))
	assert.True(t, Truthy(map[string]any{"k": nil}))
	assert.True(t, Truthy(struct{}{}))
}

// --- Function registry ---

func TestEvaluator_Functions(t *testing.T) {
	e, err := NewEvaluator(map[string]Function{
		"triple": func(args ...any) (any, error) {
			n, _ := args[0].(int)
			return n * 3, nil
		},
	})
	require.NoError(t, err)

	assert.True(t, e.HasFunction("triple"))
	assert.Equal(t, []string{"triple"}, e.FunctionNames())

	out, err := e.Evaluate(context.Background(), "triple(3)", nil)
	require.NoError(t, err)
	assert.Equal(t, 9, out)
}

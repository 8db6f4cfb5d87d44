package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulewire/rulewire/pkg/schema"
)

func TestNewGoJQEngine(t *testing.T) {
	e := NewGoJQEngine()
	assert.Equal(t, "jq", e.Name())
}

func TestGoJQEngine_ImplementsEngine(t *testing.T) {
	var _ Engine = (*GoJQEngine)(nil)
}

// --- Evaluation ---

func TestJQ_FieldAccess(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"name": "rulewire", "count": 3}

	t.Run("string field", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), ".name", data)
		require.NoError(t, err)
		assert.Equal(t, "rulewire", out)
	})

	t.Run("numbers normalized to float64", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), ".count", data)
		require.NoError(t, err)
		assert.Equal(t, float64(3), out)
	})
}

func TestJQ_ArrayFilter(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{
		"items": []any{
			map[string]any{"qty": 1},
			map[string]any{"qty": 5},
			map[string]any{"qty": 9},
		},
	}

	out, err := e.Evaluate(context.Background(),
		"[.items[] | select(.qty > 2) | .qty]", data)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(5), float64(9)}, out)
}

func TestJQ_MultipleOutputsCollected(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), ".a, .b",
		map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2)}, out)
}

func TestJQ_NoOutputIsNil(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), "empty", map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

// --- Errors and sandboxing ---

func TestJQ_ParseError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), ".[invalid", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExpression, schema.CodeOf(err))
}

func TestJQ_RuntimeError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), `.name + 1`,
		map[string]any{"name": "x"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))
}

func TestJQ_EnvironIsEmpty(t *testing.T) {
	t.Setenv("RULEWIRE_SECRET", "s3cret")
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `$ENV.RULEWIRE_SECRET`, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestJQ_EmptyExpression(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExpression, schema.CodeOf(err))
}

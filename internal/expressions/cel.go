package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rulewire/rulewire/pkg/schema"
)

// CELEngine implements the Engine interface using Google's Common Expression
// Language, selected with the "cel:" dialect prefix. It is aimed at boolean
// conditions over a record or response. The sandboxed environment exposes
// three top-level variables:
//   - record: map(string, dyn) — the data under evaluation
//   - source: map(string, dyn) — alias of record (mapping conditions read
//     more naturally against a "source")
//   - value:  dyn — the current field value, when one is in scope
//
// Thread-safe: compiled programs are cached and reused across goroutines.
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates a new CEL engine with a sandboxed environment.
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	env, err := cel.NewEnv(
		cel.Variable("record", mapType),
		cel.Variable("source", mapType),
		cel.Variable("value", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

// Evaluate compiles (or retrieves from cache) a CEL expression and evaluates
// it. The data map is bound under both "record" and "source"; a "value" key,
// if present, is bound as the value variable.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeExpression, "empty CEL expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.Eval(buildActivation(data))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return out.Value(), nil
}

// Check compiles the expression without evaluating it.
func (e *CELEngine) Check(expression string) error {
	if expression == "" {
		return schema.NewError(schema.ErrCodeExpression, "empty CEL expression")
	}
	_, err := e.getOrCompile(expression)
	return err
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *CELEngine) getOrCompile(expression string) (cel.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

// buildActivation binds the evaluation data under the declared variables.
// Missing bindings default to empty values to prevent CEL runtime nil-ref
// errors.
func buildActivation(data map[string]any) map[string]any {
	if data == nil {
		data = map[string]any{}
	}
	activation := map[string]any{
		"record": data,
		"source": data,
	}
	if v, ok := data["value"]; ok {
		activation["value"] = v
	} else {
		activation["value"] = nil
	}
	return activation
}

var _ Engine = (*CELEngine)(nil)

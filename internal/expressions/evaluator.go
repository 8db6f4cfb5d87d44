package expressions

import (
	"context"
	"strings"
)

// Dialect prefixes. An expression string selects its engine by prefix;
// without one the expr dialect applies.
const (
	dialectCEL = "cel:"
	dialectJQ  = "jq:"
)

// Evaluator is the single entry point for rule-set expression evaluation.
// It routes an expression to the engine its dialect prefix names and owns
// the shared compile caches and the frozen function registry, so every
// component (validator, transformer, mapper) evaluates through the same
// instance.
type Evaluator struct {
	expr *ExprEngine
	cel  *CELEngine
	jq   *GoJQEngine
}

// NewEvaluator builds an evaluator with the given registered functions.
// The function table applies to the expr dialect only and is frozen here.
func NewEvaluator(funcs map[string]Function) (*Evaluator, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		expr: NewExprEngine(funcs),
		cel:  celEngine,
		jq:   NewGoJQEngine(),
	}, nil
}

// Evaluate routes the expression to its dialect engine and evaluates it
// against data.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	switch {
	case strings.HasPrefix(expression, dialectCEL):
		return e.cel.Evaluate(ctx, strings.TrimPrefix(expression, dialectCEL), data)
	case strings.HasPrefix(expression, dialectJQ):
		return e.jq.Evaluate(ctx, strings.TrimPrefix(expression, dialectJQ), data)
	default:
		return e.expr.Evaluate(ctx, expression, data)
	}
}

// EvaluateBool evaluates the expression and coerces the result to a boolean
// with JSON truthiness: nil, false, zero numbers, empty strings and empty
// collections are false; everything else is true.
func (e *Evaluator) EvaluateBool(ctx context.Context, expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	return Truthy(out), nil
}

// Check compiles the expression in its dialect without evaluating it.
// Used for build-time validation of rule sets.
func (e *Evaluator) Check(expression string) error {
	switch {
	case strings.HasPrefix(expression, dialectCEL):
		return e.cel.Check(strings.TrimPrefix(expression, dialectCEL))
	case strings.HasPrefix(expression, dialectJQ):
		return e.jq.Check(strings.TrimPrefix(expression, dialectJQ))
	default:
		return e.expr.Check(expression)
	}
}

// HasFunction reports whether a function name is registered for the expr
// dialect.
func (e *Evaluator) HasFunction(name string) bool {
	return e.expr.HasFunction(name)
}

// FunctionNames returns the registered expr-dialect function names, sorted.
func (e *Evaluator) FunctionNames() []string {
	return e.expr.FunctionNames()
}

// Truthy applies JSON truthiness to an evaluation result.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int32:
		return val != 0
	case int64:
		return val != 0
	case uint64:
		return val != 0
	case float32:
		return val != 0
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

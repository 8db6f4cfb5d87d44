package expressions

import "context"

// Engine evaluates a restricted expression against a context map.
// Three implementations: Expr (default dialect), CEL (conditions),
// GoJQ (structural queries). None of them can reach host code: each
// grammar is closed and anything outside it fails at compile time.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

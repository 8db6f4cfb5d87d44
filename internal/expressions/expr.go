package expressions

import (
	"context"
	"sort"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/builtin"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"

	"github.com/rulewire/rulewire/pkg/schema"
)

// Function is a user-registered function callable from expr-dialect
// expressions. The function table is frozen when the engine is built.
type Function func(args ...any) (any, error)

// ExprEngine implements the Engine interface using expr-lang/expr for the
// default expression dialect. The grammar is closed: literals, arithmetic,
// comparison and boolean operators, indexing, ternaries, and the expr
// builtin set (abs, min, max, len, sum, round, int, float, string, filter,
// map, ...), extended only by functions registered at construction.
// Identifier resolution is closed too: at evaluation time every identifier
// must resolve to a context variable, a builtin, or a registered function,
// or the expression fails. A typo'd field name is an error, never a silent
// nil. Thread-safe: compiled programs are cached and reused across
// goroutines.
type ExprEngine struct {
	funcs map[string]Function

	mu    sync.RWMutex
	cache map[string]*compiledExpr
}

// compiledExpr pairs a compiled program with the context identifiers it
// references, resolved against the data map on every evaluation.
type compiledExpr struct {
	prg    *vm.Program
	idents []string
}

// exprBuiltins is the allow-list of expr's own builtin function names.
var exprBuiltins = func() map[string]struct{} {
	names := make(map[string]struct{}, len(builtin.Builtins))
	for _, b := range builtin.Builtins {
		names[b.Name] = struct{}{}
	}
	return names
}()

// NewExprEngine creates a new Expr engine. The function table is copied and
// frozen; registrations after construction are not possible.
func NewExprEngine(funcs map[string]Function) *ExprEngine {
	frozen := make(map[string]Function, len(funcs))
	for name, fn := range funcs {
		frozen[name] = fn
	}
	return &ExprEngine{
		funcs: frozen,
		cache: make(map[string]*compiledExpr),
	}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return "expr"
}

// FunctionNames returns the registered function names, sorted.
func (e *ExprEngine) FunctionNames() []string {
	names := make([]string, 0, len(e.funcs))
	for name := range e.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasFunction reports whether a function name is registered.
func (e *ExprEngine) HasFunction(name string) bool {
	_, ok := e.funcs[name]
	return ok
}

// Evaluate compiles (or retrieves from cache) an expression and evaluates it
// against the provided data. The data map is injected as the expression
// environment, making all keys available as top-level variables. Identifiers
// that resolve to neither a data key, a builtin, nor a registered function
// are rejected before the program runs.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeExpression, "empty expr expression")
	}

	c, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	for _, name := range c.idents {
		if _, ok := env[name]; ok {
			continue
		}
		if _, ok := e.funcs[name]; ok {
			continue
		}
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"unknown identifier %q in %q", name, expression).
			WithDetails(map[string]any{"expression": expression, "identifier": name})
	}

	out, err := vm.Run(c.prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return out, nil
}

// Check compiles the expression without evaluating it, for build-time
// validation of rule sets. Identifiers are not resolved here: a rule set's
// expressions reference record fields that only exist at evaluation time.
func (e *ExprEngine) Check(expression string) error {
	if expression == "" {
		return schema.NewError(schema.ErrCodeExpression, "empty expr expression")
	}
	_, err := e.getOrCompile(expression)
	return err
}

// getOrCompile returns a cached compiled program or compiles and caches a
// new one. Compilation leaves variables undeclared so Check stays usable
// without a record; the identifier list gathered here is what Evaluate
// resolves strictly against its data.
func (e *ExprEngine) getOrCompile(expression string) (*compiledExpr, error) {
	e.mu.RLock()
	if c, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return c, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if c, ok := e.cache[expression]; ok {
		return c, nil
	}

	opts := make([]expr.Option, 0, len(e.funcs)+2)
	opts = append(opts,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	for name, fn := range e.funcs {
		opts = append(opts, expr.Function(name, fn))
	}

	prg, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	idents, err := collectIdentifiers(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"expr parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	c := &compiledExpr{prg: prg, idents: idents}
	e.cache[expression] = c
	return c, nil
}

// identVisitor gathers top-level identifiers from a parsed expression,
// along with any names bound by let declarations.
type identVisitor struct {
	seen     map[string]struct{}
	declared map[string]struct{}
}

func (v *identVisitor) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		v.seen[n.Value] = struct{}{}
	case *ast.VariableDeclaratorNode:
		v.declared[n.Name] = struct{}{}
	}
}

// collectIdentifiers returns the identifiers an expression must resolve
// from its evaluation context, sorted. Builtin names and let-bound
// variables are excluded.
func collectIdentifiers(expression string) ([]string, error) {
	tree, err := parser.Parse(expression)
	if err != nil {
		return nil, err
	}

	v := &identVisitor{
		seen:     make(map[string]struct{}),
		declared: make(map[string]struct{}),
	}
	ast.Walk(&tree.Node, v)

	idents := make([]string, 0, len(v.seen))
	for name := range v.seen {
		if _, ok := v.declared[name]; ok {
			continue
		}
		if _, ok := exprBuiltins[name]; ok {
			continue
		}
		idents = append(idents, name)
	}
	sort.Strings(idents)
	return idents, nil
}

var _ Engine = (*ExprEngine)(nil)

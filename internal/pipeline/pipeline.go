package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rulewire/rulewire/internal/expressions"
	"github.com/rulewire/rulewire/internal/logging"
	"github.com/rulewire/rulewire/internal/mapping"
	"github.com/rulewire/rulewire/internal/transform"
	"github.com/rulewire/rulewire/internal/validation"
	"github.com/rulewire/rulewire/pkg/schema"
)

// RulesetProvider supplies the immutable rule set for an interface code.
// Implementations own persistence and caching; the pipeline only reads.
type RulesetProvider interface {
	Get(ctx context.Context, apiCode, region string) (*schema.InterfaceRuleSet, error)
}

// Executor performs the actual remote call. It owns transport, auth and
// retry concerns; the pipeline treats its errors as opaque.
type Executor interface {
	Call(ctx context.Context, apiCode string, request map[string]any) (map[string]any, error)
}

// Request is one unit of batch work.
type Request struct {
	APICode string         `json:"api_code"`
	Input   map[string]any `json:"input"`
	OrgCode string         `json:"org_code,omitempty"`
}

// Output is the mapped result of a successful invocation.
type Output struct {
	InvocationID string         `json:"invocation_id"`
	Data         map[string]any `json:"data"`
	Warnings     []string       `json:"warnings,omitempty"`
}

// BatchResult isolates one batch item's outcome.
type BatchResult struct {
	Success bool    `json:"success"`
	Output  *Output `json:"output,omitempty"`
	Error   error   `json:"error,omitempty"`
}

// Pipeline sequences rule-set fetch, preprocessing, validation, the remote
// call, and response mapping for one interface invocation. All components
// are pure functions of their inputs; a single Pipeline serves arbitrarily
// many concurrent invocations.
type Pipeline struct {
	provider RulesetProvider
	executor Executor

	eval         *expressions.Evaluator
	fields       *validation.FieldValidator
	conditionals *validation.ConditionalEngine
	transformer  *transform.Transformer
	mapper       *mapping.Mapper
	semantic     *validation.SemanticValidator

	pool   *WorkerPool
	logger *slog.Logger
}

type options struct {
	functions   map[string]expressions.Function
	transforms  map[string]transform.Func
	mappers     map[string]mapping.MapperFunc
	logger      *slog.Logger
	concurrency int
}

// Option configures pipeline construction.
type Option func(*options)

// WithFunction registers a function callable from rule-set expressions.
func WithFunction(name string, fn expressions.Function) Option {
	return func(o *options) { o.functions[name] = fn }
}

// WithTransform registers a named custom transform.
func WithTransform(name string, fn transform.Func) Option {
	return func(o *options) { o.transforms[name] = fn }
}

// WithCustomMapper registers a named custom response mapper.
func WithCustomMapper(name string, fn mapping.MapperFunc) Option {
	return func(o *options) { o.mappers[name] = fn }
}

// WithLogger sets the logger. Correlation IDs are injected automatically.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithConcurrency bounds batch fan-out. Default 8.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// New builds a Pipeline. Every extension point is resolved into a closed
// registry here; registration after construction is not possible.
func New(provider RulesetProvider, executor Executor, opts ...Option) (*Pipeline, error) {
	if provider == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "ruleset provider is nil")
	}
	if executor == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "executor is nil")
	}

	o := &options{
		functions:   make(map[string]expressions.Function),
		transforms:  make(map[string]transform.Func),
		mappers:     make(map[string]mapping.MapperFunc),
		concurrency: 8,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(logging.NewCorrelationHandler(slog.Default().Handler()))
	}

	eval, err := expressions.NewEvaluator(o.functions)
	if err != nil {
		return nil, err
	}

	transformRegistry := transform.NewRegistry()
	for name, fn := range o.transforms {
		if err := transformRegistry.Register(name, fn); err != nil {
			return nil, err
		}
	}
	mapperRegistry := mapping.NewRegistry()
	for name, fn := range o.mappers {
		if err := mapperRegistry.Register(name, fn); err != nil {
			return nil, err
		}
	}

	transformer := transform.NewTransformer(eval, transformRegistry, o.logger)
	mapper := mapping.NewMapper(eval, transformer, mapperRegistry, o.logger)
	fields := validation.NewFieldValidator(eval, o.logger)

	return &Pipeline{
		provider:     provider,
		executor:     executor,
		eval:         eval,
		fields:       fields,
		conditionals: validation.NewConditionalEngine(eval, fields, o.logger),
		transformer:  transformer,
		mapper:       mapper,
		semantic: validation.NewSemanticValidator(eval, registryResolver{
			transformer: transformer,
			mapper:      mapper,
		}),
		pool:   NewWorkerPool(o.concurrency, o.logger),
		logger: o.logger,
	}, nil
}

// ValidateRuleSet runs build-time semantic validation of a rule set against
// this pipeline's frozen registries. Providers call it on load so that
// configuration defects fail fast instead of at first use.
func (p *Pipeline) ValidateRuleSet(rs *schema.InterfaceRuleSet) error {
	return p.semantic.Validate(rs)
}

// Process runs one invocation: fetch rule set, preprocess, validate, call
// the executor, map the response. The executor is never invoked when
// validation produced any error.
func (p *Pipeline) Process(ctx context.Context, apiCode string, input map[string]any, orgCode string) (*Output, error) {
	invocationID := uuid.NewString()
	ctx = logging.WithIDs(ctx, apiCode, invocationID)
	fsm := NewFSM(p.logger)

	fail := func(err error) (*Output, error) {
		from := fsm.State()
		_ = fsm.Transition(ctx, StateFailed)
		p.logger.WarnContext(ctx, "invocation failed",
			slog.String("state", string(from)),
			slog.String("error", err.Error()))
		return nil, err
	}

	// Fetching.
	if err := fsm.Transition(ctx, StateFetching); err != nil {
		return nil, err
	}
	rs, err := p.provider.Get(ctx, apiCode, orgCode)
	if err != nil {
		if schema.CodeOf(err) == schema.ErrCodeConfigNotFound {
			return fail(err)
		}
		return fail(schema.NewErrorf(schema.ErrCodeConfigNotFound,
			"no rule set for interface %s", apiCode).WithCause(err))
	}

	// Preprocessing: defaults, then transforms, then declared-type coercion.
	if err := fsm.Transition(ctx, StatePreprocessing); err != nil {
		return nil, err
	}
	record := make(map[string]any, len(input))
	for k, v := range input {
		record[k] = v
	}
	for field, def := range rs.Defaults {
		if schema.IsEmpty(record[field]) {
			record[field] = def
		}
	}
	record, err = p.transformer.Transform(ctx, record, rs.Transforms)
	if err != nil {
		return fail(err)
	}
	for field, rule := range rs.FieldRules {
		if rule == nil || rule.Type == "" {
			continue
		}
		if v, ok := record[field]; ok && !schema.IsEmpty(v) {
			record[field] = validation.Coerce(v, rule.Type)
		}
	}

	// Validating: every declared field, then cross-field rules. Errors
	// accumulate so the caller gets the complete diagnostic in one pass.
	if err := fsm.Transition(ctx, StateValidating); err != nil {
		return nil, err
	}
	result := schema.NewValidationResult()
	for _, field := range rs.DeclaredFields() {
		result.Merge(p.fields.ValidateField(ctx, field, record[field], rs.RuleFor(field), record))
	}
	result.Merge(p.conditionals.Evaluate(ctx, record, rs.ConditionalRules))
	if !result.Valid {
		return fail(schema.NewErrorf(schema.ErrCodeValidation,
			"interface %s request failed validation", apiCode).
			WithDetails(map[string]any{"errors": result.Errors, "warnings": result.Warnings}))
	}
	result.ValidatedData = record

	// Calling: the single blocking point. The executor receives the
	// validated record, never the raw input. Executor failures pass
	// through untouched under the executor error code.
	if err := fsm.Transition(ctx, StateCalling); err != nil {
		return nil, err
	}
	response, err := p.executor.Call(ctx, apiCode, result.ValidatedData)
	if err != nil {
		return fail(schema.NewErrorf(schema.ErrCodeExecutor,
			"executor call for interface %s failed", apiCode).WithCause(err))
	}

	// Mapping: best-effort; per-field failures become warnings.
	if err := fsm.Transition(ctx, StateMapping); err != nil {
		return nil, err
	}
	data := response
	var warnings []string
	if len(rs.ResponseMapping) > 0 {
		data, warnings, err = p.mapper.Map(ctx, response, rs.ResponseMapping)
		if err != nil {
			return fail(err)
		}
	}

	if err := fsm.Transition(ctx, StateDone); err != nil {
		return nil, err
	}
	p.logger.InfoContext(ctx, "invocation done",
		slog.Int("warnings", len(warnings)))

	return &Output{
		InvocationID: invocationID,
		Data:         data,
		Warnings:     warnings,
	}, nil
}

// ProcessMany fans requests out over the worker pool. Each item's outcome
// is isolated; a failing sibling never affects the others. The result slice
// preserves request order.
func (p *Pipeline) ProcessMany(ctx context.Context, requests []Request) []BatchResult {
	results := make([]BatchResult, len(requests))

	// A local WaitGroup scopes the wait to this batch; the shared pool may
	// be serving other batches concurrently.
	var wg sync.WaitGroup
	for i, req := range requests {
		i, req := i, req
		wg.Add(1)
		err := p.pool.Submit(ctx, func(ctx context.Context) error {
			defer wg.Done()
			out, err := p.Process(ctx, req.APICode, req.Input, req.OrgCode)
			if err != nil {
				results[i] = BatchResult{Success: false, Error: err}
				return err
			}
			results[i] = BatchResult{Success: true, Output: out}
			return nil
		})
		if err != nil {
			wg.Done()
			results[i] = BatchResult{Success: false, Error: err}
		}
	}

	wg.Wait()
	return results
}

// Shutdown stops the batch worker pool after in-flight work completes.
func (p *Pipeline) Shutdown() {
	p.pool.Shutdown()
}

// Metrics returns a snapshot of the batch worker pool counters.
func (p *Pipeline) Metrics() PoolMetrics {
	return p.pool.Metrics()
}

// registryResolver adapts the frozen registries to the semantic validator.
type registryResolver struct {
	transformer *transform.Transformer
	mapper      *mapping.Mapper
}

func (r registryResolver) HasTransform(name string) bool { return r.transformer.HasTransform(name) }
func (r registryResolver) HasMapper(name string) bool    { return r.mapper.HasMapper(name) }

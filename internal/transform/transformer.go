package transform

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rulewire/rulewire/internal/expressions"
	"github.com/rulewire/rulewire/pkg/schema"
)

// Builtin transform tags.
const (
	TagTrim        = "trim"
	TagUpper       = "upper"
	TagLower       = "lower"
	TagTitle       = "title"
	TagRemove      = "remove"
	TagPadLeft     = "pad_left"
	TagPadRight    = "pad_right"
	TagSubstring   = "substring"
	TagReplace     = "replace"
	TagDateFormat  = "date_format"
	TagRound       = "round"
	TagNumber      = "number"
	TagDefault     = "default"
	TagPrefix      = "prefix"
	TagSuffix      = "suffix"
	TagStripPrefix = "strip_prefix"
	TagStripSuffix = "strip_suffix"
	TagExpression  = "expression"
)

var builtins = map[string]struct{}{
	TagTrim: {}, TagUpper: {}, TagLower: {}, TagTitle: {},
	TagRemove: {}, TagPadLeft: {}, TagPadRight: {}, TagSubstring: {},
	TagReplace: {}, TagDateFormat: {}, TagRound: {}, TagNumber: {},
	TagDefault: {}, TagPrefix: {}, TagSuffix: {},
	TagStripPrefix: {}, TagStripSuffix: {}, TagExpression: {},
}

// IsBuiltin reports whether a tag names a builtin transform.
func IsBuiltin(tag string) bool {
	_, ok := builtins[tag]
	return ok
}

// Transformer applies declarative transform chains to a record's fields.
// Pure and field-local: the input record is never mutated, and no field's
// transform sees another field's transformed value. Transform failures are
// logged warnings, never fatal — a bad transform must not block validation.
type Transformer struct {
	eval     *expressions.Evaluator
	registry *Registry
	logger   *slog.Logger
	titler   cases.Caser
}

// NewTransformer creates a Transformer. Custom transforms resolve against
// the given registry.
func NewTransformer(eval *expressions.Evaluator, registry *Registry, logger *slog.Logger) *Transformer {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transformer{
		eval:     eval,
		registry: registry,
		logger:   logger,
		titler:   cases.Title(language.Und),
	}
}

// HasTransform reports whether a tag resolves to a builtin or registered
// transform. Used by semantic rule-set validation.
func (t *Transformer) HasTransform(tag string) bool {
	return IsBuiltin(tag) || t.registry.Has(tag)
}

// Transform applies each field's transform chain and returns a new record.
// The only fatal outcome is a panic escaping a registered custom transform,
// which is a programmer defect in the registration, not bad data.
func (t *Transformer) Transform(ctx context.Context, record map[string]any, specs map[string]schema.TransformSpec) (map[string]any, error) {
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}

	for field, spec := range specs {
		transformed, err := t.Apply(ctx, field, out[field], spec, record)
		if err != nil {
			return nil, err
		}
		out[field] = transformed
	}

	return out, nil
}

// Apply runs one field's chain in order over the value.
func (t *Transformer) Apply(ctx context.Context, field string, value any, spec schema.TransformSpec, record map[string]any) (any, error) {
	var err error
	for _, step := range spec {
		value, err = t.applyStep(ctx, field, value, step, record)
		if err != nil {
			return nil, err
		}
	}
	return value, nil
}

func (t *Transformer) applyStep(ctx context.Context, field string, value any, step schema.TransformStep, record map[string]any) (result any, err error) {
	// Custom transforms run user code; recover panics into a fatal error.
	if fn, ok := t.registry.Get(step.Type); ok {
		defer func() {
			if r := recover(); r != nil {
				result = nil
				err = schema.NewErrorf(schema.ErrCodeExecution,
					"custom transform %q panicked: %v", step.Type, r).WithField(field)
			}
		}()
		out, ferr := fn(value, step.Params, record)
		if ferr != nil {
			t.logger.WarnContext(ctx, "custom transform failed, value unchanged",
				slog.String("field", field),
				slog.String("transform", step.Type),
				slog.String("error", ferr.Error()))
			return value, nil
		}
		return out, nil
	}

	if !IsBuiltin(step.Type) {
		t.logger.WarnContext(ctx, "unknown transform tag, value unchanged",
			slog.String("field", field),
			slog.String("transform", step.Type))
		return value, nil
	}

	out, terr := t.applyBuiltin(ctx, value, step, record)
	if terr != nil {
		t.logger.WarnContext(ctx, "transform failed, value unchanged",
			slog.String("field", field),
			slog.String("transform", step.Type),
			slog.String("error", terr.Error()))
		return value, nil
	}
	return out, nil
}

func (t *Transformer) applyBuiltin(ctx context.Context, value any, step schema.TransformStep, record map[string]any) (any, error) {
	// default is the only transform meaningful for an empty value.
	if step.Type == TagDefault {
		if schema.IsEmpty(value) {
			return step.Params["value"], nil
		}
		return value, nil
	}
	if value == nil {
		return nil, nil
	}

	switch step.Type {
	case TagTrim:
		return strings.TrimSpace(asString(value)), nil
	case TagUpper:
		return strings.ToUpper(asString(value)), nil
	case TagLower:
		return strings.ToLower(asString(value)), nil
	case TagTitle:
		return t.titler.String(asString(value)), nil

	case TagRemove:
		chars := paramString(step.Params, "chars")
		s := asString(value)
		for _, c := range chars {
			s = strings.ReplaceAll(s, string(c), "")
		}
		return s, nil

	case TagPadLeft, TagPadRight:
		length, ok := paramInt(step.Params, "length")
		if !ok {
			return nil, fmt.Errorf("pad needs a 'length' param")
		}
		pad := []rune(paramString(step.Params, "char"))
		if len(pad) == 0 {
			pad = []rune{' '}
		}
		s := []rune(asString(value))
		need := length - len(s)
		if need <= 0 {
			return string(s), nil
		}
		fill := make([]rune, 0, need+len(pad))
		for len(fill) < need {
			fill = append(fill, pad...)
		}
		// A multi-rune pad may overshoot; the value itself is never cut.
		fill = fill[:need]
		if step.Type == TagPadLeft {
			return string(fill) + string(s), nil
		}
		return string(s) + string(fill), nil

	case TagSubstring:
		runes := []rune(asString(value))
		start, _ := paramInt(step.Params, "start")
		end, hasEnd := paramInt(step.Params, "end")
		if !hasEnd || end > len(runes) {
			end = len(runes)
		}
		if start < 0 {
			start = 0
		}
		if start > end {
			return "", nil
		}
		return string(runes[start:end]), nil

	case TagReplace:
		pattern := paramString(step.Params, "pattern")
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid replace pattern: %w", err)
		}
		return re.ReplaceAllString(asString(value), paramString(step.Params, "replacement")), nil

	case TagDateFormat:
		from := schema.DateLayout(paramString(step.Params, "from"))
		to := schema.DateLayout(paramString(step.Params, "to"))
		parsed, err := time.Parse(from, asString(value))
		if err != nil {
			return nil, fmt.Errorf("parse date: %w", err)
		}
		return parsed.Format(to), nil

	case TagRound:
		f, ok := asFloat(value)
		if !ok {
			return nil, fmt.Errorf("round needs a numeric value, got %T", value)
		}
		decimals, _ := paramInt(step.Params, "decimals")
		p := math.Pow10(decimals)
		return math.Round(f*p) / p, nil

	case TagNumber:
		f, ok := asFloat(value)
		if !ok {
			return nil, fmt.Errorf("cannot convert %v to number", value)
		}
		return f, nil

	case TagPrefix:
		return paramString(step.Params, "value") + asString(value), nil
	case TagSuffix:
		return asString(value) + paramString(step.Params, "value"), nil
	case TagStripPrefix:
		return strings.TrimPrefix(asString(value), paramString(step.Params, "value")), nil
	case TagStripSuffix:
		return strings.TrimSuffix(asString(value), paramString(step.Params, "value")), nil

	case TagExpression:
		expr := paramString(step.Params, "expression")
		env := make(map[string]any, len(record)+1)
		for k, v := range record {
			env[k] = v
		}
		env["value"] = value
		return t.eval.Evaluate(ctx, expr, env)

	default:
		return nil, fmt.Errorf("unhandled builtin %q", step.Type)
	}
}

// --- Param and value helpers ---

func asString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// Avoid the 1.000000e+06 form for round JSON numbers.
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

func asFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func paramString(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	s, _ := params[key].(string)
	return s
}

func paramInt(params map[string]any, key string) (int, bool) {
	if params == nil {
		return 0, false
	}
	switch val := params[key].(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	default:
		return 0, false
	}
}

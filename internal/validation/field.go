package validation

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rulewire/rulewire/internal/expressions"
	"github.com/rulewire/rulewire/pkg/schema"
)

// FieldValidator validates one field's value against a declarative rule.
// Apart from the required check, every check runs even when an earlier one
// failed, so a single pass yields the complete diagnostic for the field.
// Safe for concurrent use; the only shared state is the regexp compile cache.
type FieldValidator struct {
	eval   *expressions.Evaluator
	logger *slog.Logger

	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
}

// NewFieldValidator creates a FieldValidator evaluating custom and
// dependency expressions through eval.
func NewFieldValidator(eval *expressions.Evaluator, logger *slog.Logger) *FieldValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FieldValidator{
		eval:     eval,
		logger:   logger,
		patterns: make(map[string]*regexp.Regexp),
	}
}

// ValidateField runs the full check sequence for one field. The record is
// the whole request, used as context for custom expressions and dependency
// conditions. The returned result never carries ValidatedData; coercion is
// the pipeline's concern.
func (v *FieldValidator) ValidateField(ctx context.Context, name string, value any, rule *schema.FieldRule, record map[string]any) *schema.ValidationResult {
	result := schema.NewValidationResult()
	if rule == nil {
		return result
	}

	// Required is the only short-circuiting check: an empty value has
	// nothing further to validate.
	if schema.IsEmpty(value) {
		if rule.Required {
			result.AddError(name, fmt.Sprintf("%s required", name))
		}
		return result
	}

	v.checkType(name, value, rule, result)
	v.checkLength(name, value, rule, result)
	v.checkRange(name, value, rule, result)
	v.checkPattern(name, value, rule, result)
	v.checkEnum(name, value, rule, result)
	v.checkDate(name, value, rule, result)
	v.checkExpression(ctx, name, value, rule, record, result)
	v.checkDependencies(ctx, name, rule, record, result)

	return result
}

func (v *FieldValidator) checkType(name string, value any, rule *schema.FieldRule, result *schema.ValidationResult) {
	if rule.Type == "" {
		return
	}
	switch rule.Type {
	case "string":
		switch value.(type) {
		case string, int, int64, float64, bool:
			// Scalars are acceptable as strings.
		default:
			result.AddError(name, fmt.Sprintf("%s must be a string", name))
		}
	case "int":
		if _, ok := toInt(value); !ok {
			result.AddError(name, fmt.Sprintf("%s must be an integer", name))
		}
	case "float", "number":
		if _, ok := toFloat(value); !ok {
			result.AddError(name, fmt.Sprintf("%s must be a number", name))
		}
	case "bool":
		switch val := value.(type) {
		case bool:
		case string:
			if _, err := strconv.ParseBool(val); err != nil {
				result.AddError(name, fmt.Sprintf("%s must be a boolean", name))
			}
		default:
			result.AddError(name, fmt.Sprintf("%s must be a boolean", name))
		}
	case "date":
		s, ok := value.(string)
		if !ok {
			result.AddError(name, fmt.Sprintf("%s must be a date string", name))
			return
		}
		if _, err := time.Parse(schema.DateLayout(rule.DateFormat), s); err != nil {
			result.AddError(name, fmt.Sprintf("%s must be a valid date", name))
		}
	case "array":
		if _, ok := value.([]any); !ok {
			result.AddError(name, fmt.Sprintf("%s must be an array", name))
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			result.AddError(name, fmt.Sprintf("%s must be an object", name))
		}
	default:
		// Unknown declared types are a rule-set defect; semantic
		// validation rejects them at build time.
		result.AddWarning(name, fmt.Sprintf("unknown declared type %q", rule.Type))
	}
}

func (v *FieldValidator) checkLength(name string, value any, rule *schema.FieldRule, result *schema.ValidationResult) {
	if rule.MinLength == nil && rule.MaxLength == nil && rule.Length == nil {
		return
	}

	var n int
	switch val := value.(type) {
	case string:
		n = utf8.RuneCountInString(val)
	case []any:
		n = len(val)
	default:
		n = utf8.RuneCountInString(fmt.Sprint(val))
	}

	if rule.Length != nil && n != *rule.Length {
		result.AddError(name, fmt.Sprintf("%s length must be exactly %d", name, *rule.Length))
	}
	if rule.MinLength != nil && n < *rule.MinLength {
		result.AddError(name, fmt.Sprintf("%s length must be at least %d", name, *rule.MinLength))
	}
	if rule.MaxLength != nil && n > *rule.MaxLength {
		result.AddError(name, fmt.Sprintf("%s length must be at most %d", name, *rule.MaxLength))
	}
}

func (v *FieldValidator) checkRange(name string, value any, rule *schema.FieldRule, result *schema.ValidationResult) {
	if rule.MinValue == nil && rule.MaxValue == nil {
		return
	}
	f, ok := toFloat(value)
	if !ok {
		// Not numeric at all; the type check already reported it.
		return
	}
	if rule.MinValue != nil && f < *rule.MinValue {
		result.AddError(name, fmt.Sprintf("%s must be >= %v", name, *rule.MinValue))
	}
	if rule.MaxValue != nil && f > *rule.MaxValue {
		result.AddError(name, fmt.Sprintf("%s must be <= %v", name, *rule.MaxValue))
	}
}

func (v *FieldValidator) checkPattern(name string, value any, rule *schema.FieldRule, result *schema.ValidationResult) {
	if rule.Pattern == "" {
		return
	}
	re, err := v.compilePattern(rule.Pattern)
	if err != nil {
		result.AddError(name, fmt.Sprintf("%s has invalid pattern rule: %v", name, err))
		return
	}
	if !re.MatchString(stringify(value)) {
		msg := rule.PatternMessage
		if msg == "" {
			msg = fmt.Sprintf("%s has invalid format", name)
		}
		result.AddError(name, msg)
	}
}

func (v *FieldValidator) checkEnum(name string, value any, rule *schema.FieldRule, result *schema.ValidationResult) {
	if len(rule.Enum) == 0 {
		return
	}
	for _, allowed := range rule.Enum {
		if looseEqual(value, allowed) {
			return
		}
	}
	result.AddError(name, fmt.Sprintf("%s must be one of %v", name, rule.Enum))
}

func (v *FieldValidator) checkDate(name string, value any, rule *schema.FieldRule, result *schema.ValidationResult) {
	// The date type check already covers format; here only when a format
	// or range is declared without type=date.
	if rule.DateFormat == "" && rule.MinDate == "" && rule.MaxDate == "" {
		return
	}
	layout := schema.DateLayout(rule.DateFormat)
	s, ok := value.(string)
	if !ok {
		result.AddError(name, fmt.Sprintf("%s must be a date string", name))
		return
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		if rule.Type != "date" { // avoid duplicating the type-check error
			result.AddError(name, fmt.Sprintf("%s must match date format %s", name, layout))
		}
		return
	}
	if rule.MinDate != "" {
		if min, err := time.Parse(layout, rule.MinDate); err == nil && t.Before(min) {
			result.AddError(name, fmt.Sprintf("%s must not be before %s", name, rule.MinDate))
		}
	}
	if rule.MaxDate != "" {
		if max, err := time.Parse(layout, rule.MaxDate); err == nil && t.After(max) {
			result.AddError(name, fmt.Sprintf("%s must not be after %s", name, rule.MaxDate))
		}
	}
}

func (v *FieldValidator) checkExpression(ctx context.Context, name string, value any, rule *schema.FieldRule, record map[string]any, result *schema.ValidationResult) {
	if rule.Expression == "" {
		return
	}
	env := expressionContext(record, name, value)
	ok, err := v.eval.EvaluateBool(ctx, rule.Expression, env)
	if err != nil {
		// A broken expression is a configuration defect: it fails this
		// rule locally but never aborts the validation pass.
		v.logger.WarnContext(ctx, "custom validation expression failed",
			slog.String("field", name), slog.String("error", err.Error()))
		result.AddError(name, fmt.Sprintf("%s validation rule could not be evaluated", name))
		return
	}
	if !ok {
		msg := rule.ExpressionMessage
		if msg == "" {
			msg = fmt.Sprintf("%s failed validation", name)
		}
		result.AddError(name, msg)
	}
}

func (v *FieldValidator) checkDependencies(ctx context.Context, name string, rule *schema.FieldRule, record map[string]any, result *schema.ValidationResult) {
	for _, dep := range rule.Dependencies {
		if dep == nil || dep.Condition == "" {
			continue
		}
		ok, err := v.eval.EvaluateBool(ctx, dep.Condition, record)
		if err != nil {
			v.logger.WarnContext(ctx, "dependency condition failed",
				slog.String("field", name), slog.String("error", err.Error()))
			result.AddError(name, fmt.Sprintf("%s dependency rule could not be evaluated", name))
			continue
		}
		if !ok {
			continue
		}
		for _, target := range dep.Fields {
			if schema.IsEmpty(record[target]) {
				result.AddError(target, fmt.Sprintf("%s required when %s", target, dep.Condition))
			}
		}
	}
}

func (v *FieldValidator) compilePattern(pattern string) (*regexp.Regexp, error) {
	v.mu.RLock()
	re, ok := v.patterns[pattern]
	v.mu.RUnlock()
	if ok {
		return re, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if re, ok := v.patterns[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	v.patterns[pattern] = re
	return re, nil
}

// expressionContext builds the evaluation environment for a custom field
// expression: the whole record plus the field's own value under its name
// and under "value".
func expressionContext(record map[string]any, name string, value any) map[string]any {
	env := make(map[string]any, len(record)+2)
	for k, val := range record {
		env[k] = val
	}
	env[name] = value
	env["value"] = value
	return env
}

// --- Conversion helpers ---

// toFloat converts numeric values and numeric strings to float64.
func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
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

// toInt converts integral values and integral strings to int64. Floats are
// accepted only when they carry no fractional part (JSON numbers arrive as
// float64).
func toInt(v any) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case float64:
		if val == float64(int64(val)) {
			return int64(val), true
		}
		return 0, false
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// looseEqual compares enum candidates tolerantly: numerically when both
// sides are numeric, by string form otherwise.
func looseEqual(a, b any) bool {
	if a == b {
		return true
	}
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		return fa == fb
	}
	return stringify(a) == stringify(b)
}

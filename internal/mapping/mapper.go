package mapping

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/rulewire/rulewire/internal/expressions"
	"github.com/rulewire/rulewire/internal/transform"
	"github.com/rulewire/rulewire/pkg/schema"
)

// Mapper converts an arbitrary nested response into a target shape via
// declarative mapping rules. Per-field failures are isolated: a failing
// field is omitted with a recorded warning, and mapping as a whole only
// fails when a registered custom mapper panics — malformed or partial
// response data never aborts it.
type Mapper struct {
	eval        *expressions.Evaluator
	transformer *transform.Transformer
	registry    *Registry
	logger      *slog.Logger
}

// NewMapper creates a Mapper. Custom variants resolve against the given
// registry; direct-rule transforms run through the transformer.
func NewMapper(eval *expressions.Evaluator, transformer *transform.Transformer, registry *Registry, logger *slog.Logger) *Mapper {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{
		eval:        eval,
		transformer: transformer,
		registry:    registry,
		logger:      logger,
	}
}

// HasMapper reports whether a custom mapper name is registered. Used by
// semantic rule-set validation.
func (m *Mapper) HasMapper(name string) bool {
	return m.registry.Has(name)
}

// Map resolves every target field of the mapping over the source. It
// returns the mapped output and the warnings recorded for omitted fields.
func (m *Mapper) Map(ctx context.Context, source map[string]any, mapping map[string]*schema.MappingRule) (map[string]any, []string, error) {
	output := make(map[string]any, len(mapping))
	var warnings []string

	// Deterministic field order keeps warning lists reproducible.
	fields := make([]string, 0, len(mapping))
	for field := range mapping {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		value, present, warns, err := m.resolveRule(ctx, field, mapping[field], source)
		if err != nil {
			return nil, nil, err
		}
		warnings = append(warnings, warns...)
		if present {
			output[field] = value
		}
	}

	return output, warnings, nil
}

// resolveRule applies one rule. present=false means the field is omitted
// from the output. Only a custom-mapper panic returns a non-nil error.
func (m *Mapper) resolveRule(ctx context.Context, field string, rule *schema.MappingRule, source map[string]any) (value any, present bool, warnings []string, err error) {
	if rule == nil {
		return nil, false, []string{fmt.Sprintf("%s: nil mapping rule", field)}, nil
	}

	switch rule.Type {
	case schema.MappingDirect:
		return m.resolveDirect(ctx, field, rule, source)
	case schema.MappingArray:
		return m.resolveArray(ctx, field, rule, source)
	case schema.MappingConditional:
		return m.resolveConditional(ctx, field, rule, source)
	case schema.MappingComputed:
		return m.resolveComputed(ctx, field, rule, source)
	case schema.MappingNested:
		return m.resolveNested(ctx, field, rule, source)
	case schema.MappingCustom:
		return m.resolveCustom(ctx, field, rule, source)
	default:
		// Unreachable for rule sets that passed build-time validation.
		warning := fmt.Sprintf("%s: unknown mapping type %q", field, rule.Type)
		m.logger.WarnContext(ctx, "unknown mapping type",
			slog.String("field", field), slog.String("type", string(rule.Type)))
		return nil, false, []string{warning}, nil
	}
}

func (m *Mapper) resolveDirect(ctx context.Context, field string, rule *schema.MappingRule, source map[string]any) (any, bool, []string, error) {
	value := ExtractPath(source, rule.Source)
	if value == nil && rule.Default != nil {
		value = rule.Default
	}

	if rule.Transform != nil && value != nil {
		transformed, err := m.transformer.Apply(ctx, field, value, *rule.Transform, source)
		if err != nil {
			return nil, false, nil, err
		}
		value = transformed
	}

	return value, true, nil, nil
}

func (m *Mapper) resolveArray(ctx context.Context, field string, rule *schema.MappingRule, source map[string]any) (any, bool, []string, error) {
	var warnings []string

	// Non-array source is not an error: the mapping still yields an
	// empty, well-typed result.
	items, _ := ExtractPath(source, rule.Source).([]any)

	// Filtering, sorting and limiting all read the source elements, so
	// the sort key does not have to survive into the item mapping.
	type indexed struct {
		idx  int
		elem map[string]any
	}
	kept := make([]indexed, 0, len(items))
	for i, item := range items {
		element, ok := item.(map[string]any)
		if !ok {
			warnings = append(warnings,
				fmt.Sprintf("%s[%d]: element is not an object, skipped", field, i))
			continue
		}

		if rule.Filter != "" {
			keep, err := m.eval.EvaluateBool(ctx, rule.Filter, element)
			if err != nil {
				warnings = append(warnings,
					fmt.Sprintf("%s[%d]: filter failed: %s", field, i, err.Error()))
				continue
			}
			if !keep {
				continue
			}
		}
		kept = append(kept, indexed{idx: i, elem: element})
	}

	if rule.Sort != "" {
		desc := rule.Order == "desc"
		sort.SliceStable(kept, func(i, j int) bool {
			a := ExtractPath(kept[i].elem, rule.Sort)
			b := ExtractPath(kept[j].elem, rule.Sort)
			if desc {
				return compareNatural(a, b) > 0
			}
			return compareNatural(a, b) < 0
		})
	}

	if rule.Limit > 0 && len(kept) > rule.Limit {
		kept = kept[:rule.Limit]
	}

	mapped := make([]any, 0, len(kept))
	for _, item := range kept {
		out, itemWarnings, err := m.Map(ctx, item.elem, rule.ItemMapping)
		if err != nil {
			return nil, false, nil, err
		}
		for _, w := range itemWarnings {
			warnings = append(warnings, fmt.Sprintf("%s[%d].%s", field, item.idx, w))
		}
		mapped = append(mapped, out)
	}

	return mapped, true, warnings, nil
}

func (m *Mapper) resolveConditional(ctx context.Context, field string, rule *schema.MappingRule, source map[string]any) (any, bool, []string, error) {
	ok, err := m.eval.EvaluateBool(ctx, rule.Condition, source)
	if err != nil {
		warning := fmt.Sprintf("%s: condition failed: %s", field, err.Error())
		m.logger.WarnContext(ctx, "conditional mapping omitted",
			slog.String("field", field), slog.String("error", err.Error()))
		return nil, false, []string{warning}, nil
	}

	branch := rule.TrueRule
	if !ok {
		branch = rule.FalseRule
	}
	if branch == nil {
		return nil, false, nil, nil
	}
	return m.resolveRule(ctx, field, branch, source)
}

func (m *Mapper) resolveComputed(ctx context.Context, field string, rule *schema.MappingRule, source map[string]any) (any, bool, []string, error) {
	env := make(map[string]any, len(source)+len(rule.StaticContext))
	for k, v := range source {
		env[k] = v
	}
	for k, v := range rule.StaticContext {
		env[k] = v
	}

	value, err := m.eval.Evaluate(ctx, rule.Expression, env)
	if err != nil {
		warning := fmt.Sprintf("%s: computed expression failed: %s", field, err.Error())
		m.logger.WarnContext(ctx, "computed mapping omitted",
			slog.String("field", field), slog.String("error", err.Error()))
		return nil, false, []string{warning}, nil
	}
	return value, true, nil, nil
}

func (m *Mapper) resolveNested(ctx context.Context, field string, rule *schema.MappingRule, source map[string]any) (any, bool, []string, error) {
	obj, ok := ExtractPath(source, rule.Source).(map[string]any)
	if !ok {
		return map[string]any{}, true, nil, nil
	}

	out, nestedWarnings, err := m.Map(ctx, obj, rule.Mapping)
	if err != nil {
		return nil, false, nil, err
	}
	warnings := make([]string, 0, len(nestedWarnings))
	for _, w := range nestedWarnings {
		warnings = append(warnings, fmt.Sprintf("%s.%s", field, w))
	}
	return out, true, warnings, nil
}

func (m *Mapper) resolveCustom(ctx context.Context, field string, rule *schema.MappingRule, source map[string]any) (value any, present bool, warnings []string, err error) {
	fn, ok := m.registry.Get(rule.Name)
	if !ok {
		warning := fmt.Sprintf("%s: custom mapper %q not registered", field, rule.Name)
		return nil, false, []string{warning}, nil
	}

	// A panic in registered code is a programmer defect, not bad response
	// data; it surfaces as a fatal error instead of a silent omission.
	defer func() {
		if r := recover(); r != nil {
			value, present, warnings = nil, false, nil
			err = schema.NewErrorf(schema.ErrCodeExecution,
				"custom mapper %q panicked: %v", rule.Name, r).WithField(field)
		}
	}()

	out, ferr := fn(source, rule.Config)
	if ferr != nil {
		warning := fmt.Sprintf("%s: custom mapper %q failed: %s", field, rule.Name, ferr.Error())
		m.logger.WarnContext(ctx, "custom mapping omitted",
			slog.String("field", field),
			slog.String("mapper", rule.Name),
			slog.String("error", ferr.Error()))
		return nil, false, []string{warning}, nil
	}
	return out, true, nil, nil
}

// compareNatural orders two values by their JSON scalar kind: numbers
// numerically, strings lexicographically, bools false<true. Mixed kinds
// compare by kind rank (nil < bool < number < string < other) so sorting
// is total and deterministic.
func compareNatural(a, b any) int {
	ra, rb := kindRank(a), kindRank(b)
	if ra != rb {
		return ra - rb
	}

	switch ra {
	case 1: // bool
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case bb:
			return -1
		default:
			return 1
		}
	case 2: // number
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	case 3: // string
		return strings.Compare(a.(string), b.(string))
	default:
		return 0
	}
}

func kindRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int, int32, int64, float32, float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

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
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

package validation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rulewire/rulewire/internal/expressions"
	"github.com/rulewire/rulewire/pkg/schema"
)

// ConditionalEngine validates cross-field constraints over a whole record.
// Like the field validator it never fails fast: every rule is evaluated and
// errors accumulate.
type ConditionalEngine struct {
	eval   *expressions.Evaluator
	fields *FieldValidator
	logger *slog.Logger
}

// NewConditionalEngine creates a ConditionalEngine. Sub-validation rules
// delegate to the given field validator.
func NewConditionalEngine(eval *expressions.Evaluator, fields *FieldValidator, logger *slog.Logger) *ConditionalEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConditionalEngine{eval: eval, fields: fields, logger: logger}
}

// Evaluate applies every conditional rule to the record and merges the
// per-rule results.
func (e *ConditionalEngine) Evaluate(ctx context.Context, record map[string]any, rules []*schema.ConditionalRule) *schema.ValidationResult {
	result := schema.NewValidationResult()
	for _, rule := range rules {
		if rule == nil {
			continue
		}
		result.Merge(e.evaluateRule(ctx, record, rule))
	}
	return result
}

func (e *ConditionalEngine) evaluateRule(ctx context.Context, record map[string]any, rule *schema.ConditionalRule) *schema.ValidationResult {
	result := schema.NewValidationResult()

	// required_if demands a condition; the other kinds treat an absent
	// condition as always-applicable.
	applies := true
	if rule.Condition != "" {
		ok, err := e.eval.EvaluateBool(ctx, rule.Condition, record)
		if err != nil {
			e.logger.WarnContext(ctx, "conditional rule condition failed",
				slog.String("type", string(rule.Type)), slog.String("error", err.Error()))
			result.AddError(conditionKey(rule), "conditional rule could not be evaluated")
			return result
		}
		applies = ok
	} else if rule.Type == schema.ConditionalRequiredIf {
		result.AddError(conditionKey(rule), "required_if rule is missing its condition")
		return result
	}

	if !applies {
		return result
	}

	switch rule.Type {
	case schema.ConditionalRequiredIf:
		for _, field := range rule.Fields {
			if schema.IsEmpty(record[field]) {
				result.AddError(field, e.message(rule, fmt.Sprintf("%s required when %s", field, rule.Condition)))
			}
		}

	case schema.ConditionalMutualExclusive:
		var present []string
		for _, field := range rule.Fields {
			if !schema.IsEmpty(record[field]) {
				present = append(present, field)
			}
		}
		if len(present) > 1 {
			for _, field := range present {
				result.AddError(field, e.message(rule,
					fmt.Sprintf("only one of %s may be set", strings.Join(rule.Fields, ", "))))
			}
		}

	case schema.ConditionalAtLeastOne:
		allEmpty := true
		for _, field := range rule.Fields {
			if !schema.IsEmpty(record[field]) {
				allEmpty = false
				break
			}
		}
		if allEmpty {
			result.AddError(conditionKey(rule), e.message(rule,
				fmt.Sprintf("at least one of %s is required", strings.Join(rule.Fields, ", "))))
		}

	case schema.ConditionalSubValidation:
		for field, fieldRule := range rule.FieldRules {
			result.Merge(e.fields.ValidateField(ctx, field, record[field], fieldRule, record))
		}

	default:
		// Semantic validation rejects unknown types at build time; reaching
		// here means a rule set bypassed it.
		e.logger.WarnContext(ctx, "unknown conditional rule type",
			slog.String("type", string(rule.Type)))
		result.AddWarning(conditionKey(rule), fmt.Sprintf("unknown conditional rule type %q", rule.Type))
	}

	return result
}

func (e *ConditionalEngine) message(rule *schema.ConditionalRule, fallback string) string {
	if rule.Message != "" {
		return rule.Message
	}
	return fallback
}

// conditionKey is the error key for rule-level (not field-level) failures:
// the joined field list, or "_rules" when the rule names none.
func conditionKey(rule *schema.ConditionalRule) string {
	if len(rule.Fields) > 0 {
		return strings.Join(rule.Fields, ",")
	}
	return "_rules"
}

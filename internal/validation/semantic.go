package validation

import (
	"fmt"
	"regexp"

	"github.com/rulewire/rulewire/internal/expressions"
	"github.com/rulewire/rulewire/pkg/schema"
)

// Registries resolves the extension-point names a rule set may reference.
// Satisfied by the pipeline's frozen transform and mapper registries.
type Registries interface {
	HasTransform(name string) bool
	HasMapper(name string) bool
}

// SemanticValidator performs the referential checks JSON Schema cannot
// express: every expression compiles in its dialect, every referenced
// custom transform and mapper resolves, and every mapping variant carries
// the fields its kind requires. Violations are fatal at rule-set build
// time, never at first use.
type SemanticValidator struct {
	eval       *expressions.Evaluator
	registries Registries
}

// NewSemanticValidator creates a SemanticValidator resolving names against
// the given registries.
func NewSemanticValidator(eval *expressions.Evaluator, registries Registries) *SemanticValidator {
	return &SemanticValidator{eval: eval, registries: registries}
}

// Validate checks the whole rule set and returns a single error carrying
// every violation found.
func (v *SemanticValidator) Validate(rs *schema.InterfaceRuleSet) error {
	if rs == nil {
		return schema.NewError(schema.ErrCodeValidation, "rule set is nil")
	}

	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	for name, rule := range rs.FieldRules {
		v.checkFieldRule(name, rule, add)
	}

	for i, rule := range rs.ConditionalRules {
		v.checkConditionalRule(i, rule, add)
	}

	for field, spec := range rs.Transforms {
		v.checkTransformSpec(fmt.Sprintf("transforms.%s", field), spec, add)
	}

	for field, rule := range rs.ResponseMapping {
		v.checkMappingRule(fmt.Sprintf("response_mapping.%s", field), rule, add)
	}

	if len(issues) == 0 {
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeValidation,
		"rule set %s has %d semantic violations", rs.APICode, len(issues)).
		WithDetails(map[string]any{"violations": issues})
}

func (v *SemanticValidator) checkFieldRule(name string, rule *schema.FieldRule, add func(string, ...any)) {
	if rule == nil {
		return
	}
	if rule.Pattern != "" {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			add("field_rules.%s: invalid pattern: %v", name, err)
		}
	}
	if rule.Expression != "" {
		if err := v.eval.Check(rule.Expression); err != nil {
			add("field_rules.%s: expression does not compile: %v", name, err)
		}
	}
	for i, dep := range rule.Dependencies {
		if dep == nil {
			continue
		}
		if dep.Condition == "" {
			add("field_rules.%s.dependencies[%d]: missing condition", name, i)
		} else if err := v.eval.Check(dep.Condition); err != nil {
			add("field_rules.%s.dependencies[%d]: condition does not compile: %v", name, i, err)
		}
		if len(dep.Fields) == 0 {
			add("field_rules.%s.dependencies[%d]: names no fields", name, i)
		}
	}
}

func (v *SemanticValidator) checkConditionalRule(i int, rule *schema.ConditionalRule, add func(string, ...any)) {
	if rule == nil {
		add("conditional_rules[%d]: rule is nil", i)
		return
	}
	if rule.Condition != "" {
		if err := v.eval.Check(rule.Condition); err != nil {
			add("conditional_rules[%d]: condition does not compile: %v", i, err)
		}
	}
	switch rule.Type {
	case schema.ConditionalRequiredIf:
		if rule.Condition == "" {
			add("conditional_rules[%d]: required_if needs a condition", i)
		}
		if len(rule.Fields) == 0 {
			add("conditional_rules[%d]: required_if names no fields", i)
		}
	case schema.ConditionalMutualExclusive, schema.ConditionalAtLeastOne:
		if len(rule.Fields) < 2 && rule.Type == schema.ConditionalMutualExclusive {
			add("conditional_rules[%d]: mutual_exclusive needs at least two fields", i)
		}
		if len(rule.Fields) == 0 {
			add("conditional_rules[%d]: %s names no fields", i, rule.Type)
		}
	case schema.ConditionalSubValidation:
		if len(rule.FieldRules) == 0 {
			add("conditional_rules[%d]: sub_validation declares no field rules", i)
		}
		for name, sub := range rule.FieldRules {
			v.checkFieldRule(fmt.Sprintf("conditional_rules[%d].%s", i, name), sub, add)
		}
	default:
		add("conditional_rules[%d]: unknown type %q", i, rule.Type)
	}
}

func (v *SemanticValidator) checkTransformSpec(path string, spec schema.TransformSpec, add func(string, ...any)) {
	for i, step := range spec {
		stepPath := fmt.Sprintf("%s[%d]", path, i)
		if step.Type == "" {
			add("%s: empty transform tag", stepPath)
			continue
		}
		if step.Type == "expression" {
			expr, _ := step.Params["expression"].(string)
			if expr == "" {
				add("%s: expression transform needs an 'expression' param", stepPath)
			} else if err := v.eval.Check(expr); err != nil {
				add("%s: expression does not compile: %v", stepPath, err)
			}
		}
		// HasTransform resolves builtins and registered customs alike.
		if !v.registries.HasTransform(step.Type) {
			add("%s: transform %q is neither builtin nor registered", stepPath, step.Type)
		}
	}
}

func (v *SemanticValidator) checkMappingRule(path string, rule *schema.MappingRule, add func(string, ...any)) {
	if rule == nil {
		add("%s: rule is nil", path)
		return
	}

	switch rule.Type {
	case schema.MappingDirect:
		if rule.Source == "" {
			add("%s: direct rule needs a source path", path)
		}
		if rule.Transform != nil {
			v.checkTransformSpec(path+".transform", *rule.Transform, add)
		}

	case schema.MappingArray:
		if rule.Source == "" {
			add("%s: array rule needs a source path", path)
		}
		if len(rule.ItemMapping) == 0 {
			add("%s: array rule needs an item_mapping", path)
		}
		if rule.Filter != "" {
			if err := v.eval.Check(rule.Filter); err != nil {
				add("%s: filter does not compile: %v", path, err)
			}
		}
		if rule.Order != "" && rule.Order != "asc" && rule.Order != "desc" {
			add("%s: order must be asc or desc, got %q", path, rule.Order)
		}
		for field, item := range rule.ItemMapping {
			v.checkMappingRule(fmt.Sprintf("%s.item_mapping.%s", path, field), item, add)
		}

	case schema.MappingConditional:
		if rule.Condition == "" {
			add("%s: conditional rule needs a condition", path)
		} else if err := v.eval.Check(rule.Condition); err != nil {
			add("%s: condition does not compile: %v", path, err)
		}
		if rule.TrueRule == nil && rule.FalseRule == nil {
			add("%s: conditional rule needs at least one branch", path)
		}
		if rule.TrueRule != nil {
			v.checkMappingRule(path+".true_rule", rule.TrueRule, add)
		}
		if rule.FalseRule != nil {
			v.checkMappingRule(path+".false_rule", rule.FalseRule, add)
		}

	case schema.MappingComputed:
		if rule.Expression == "" {
			add("%s: computed rule needs an expression", path)
		} else if err := v.eval.Check(rule.Expression); err != nil {
			add("%s: expression does not compile: %v", path, err)
		}

	case schema.MappingNested:
		if rule.Source == "" {
			add("%s: nested rule needs a source path", path)
		}
		if len(rule.Mapping) == 0 {
			add("%s: nested rule needs a mapping", path)
		}
		for field, sub := range rule.Mapping {
			v.checkMappingRule(fmt.Sprintf("%s.mapping.%s", path, field), sub, add)
		}

	case schema.MappingCustom:
		if rule.Name == "" {
			add("%s: custom rule needs a name", path)
		} else if !v.registries.HasMapper(rule.Name) {
			add("%s: custom mapper %q is not registered", path, rule.Name)
		}

	default:
		add("%s: unknown mapping type %q", path, rule.Type)
	}
}

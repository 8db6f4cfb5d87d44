package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// InterfaceRuleSet is the JSON-serializable configuration for one business
// interface: how its request is validated and transformed, and how its raw
// response is mapped into the target shape. Built and validated once per
// interface code; treated as an immutable snapshot for the duration of a
// pipeline run.
type InterfaceRuleSet struct {
	APICode          string                  `json:"api_code"`
	Region           string                  `json:"region,omitempty"`
	FieldRules       map[string]*FieldRule   `json:"field_rules,omitempty"`
	RequiredFields   []string                `json:"required_fields,omitempty"`
	OptionalFields   []string                `json:"optional_fields,omitempty"`
	Defaults         map[string]any          `json:"defaults,omitempty"`
	ConditionalRules []*ConditionalRule      `json:"conditional_rules,omitempty"`
	Transforms       map[string]TransformSpec `json:"transforms,omitempty"`
	ResponseMapping  map[string]*MappingRule `json:"response_mapping,omitempty"`
	Metadata         map[string]any          `json:"metadata,omitempty"`
}

// FieldRule declares the validation constraints for a single request field.
type FieldRule struct {
	Required bool   `json:"required,omitempty"`
	Type     string `json:"type,omitempty"` // string, int, float, number, bool, date, array, object

	MinLength *int `json:"min_length,omitempty"`
	MaxLength *int `json:"max_length,omitempty"`
	Length    *int `json:"length,omitempty"`

	MinValue *float64 `json:"min_value,omitempty"`
	MaxValue *float64 `json:"max_value,omitempty"`

	Pattern        string `json:"pattern,omitempty"`
	PatternMessage string `json:"pattern_message,omitempty"`

	Enum []any `json:"enum,omitempty"`

	DateFormat string `json:"date_format,omitempty"`
	MinDate    string `json:"min_date,omitempty"`
	MaxDate    string `json:"max_date,omitempty"`

	Expression        string `json:"expression,omitempty"`
	ExpressionMessage string `json:"expression_message,omitempty"`

	Dependencies []*Dependency `json:"dependencies,omitempty"`
}

// Dependency declares that when Condition holds over the record, the listed
// fields must be non-empty.
type Dependency struct {
	Condition string   `json:"condition"`
	Fields    []string `json:"fields"`
}

// ConditionalRuleType enumerates the kinds of cross-field rules.
type ConditionalRuleType string

const (
	ConditionalRequiredIf      ConditionalRuleType = "required_if"
	ConditionalMutualExclusive ConditionalRuleType = "mutual_exclusive"
	ConditionalAtLeastOne      ConditionalRuleType = "at_least_one"
	ConditionalSubValidation   ConditionalRuleType = "sub_validation"
)

// ConditionalRule is a cross-field constraint evaluated over the whole record.
type ConditionalRule struct {
	Type      ConditionalRuleType   `json:"type"`
	Condition string                `json:"condition,omitempty"`
	Fields    []string              `json:"fields,omitempty"`
	Message   string                `json:"message,omitempty"`
	FieldRules map[string]*FieldRule `json:"field_rules,omitempty"` // sub_validation only
}

// TransformStep is one resolved step of a transform chain.
type TransformStep struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// TransformSpec is an ordered transform chain. On the wire it may be a bare
// string tag, a {type, params} object, or a list of either; UnmarshalJSON
// normalizes all three shapes into the chain form.
type TransformSpec []TransformStep

func (s *TransformSpec) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*s = nil
		return nil
	}

	switch trimmed[0] {
	case '"':
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return err
		}
		*s = TransformSpec{{Type: tag}}
		return nil
	case '{':
		var step TransformStep
		if err := json.Unmarshal(data, &step); err != nil {
			return err
		}
		*s = TransformSpec{step}
		return nil
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		chain := make(TransformSpec, 0, len(raw))
		for _, item := range raw {
			var sub TransformSpec
			if err := sub.UnmarshalJSON(item); err != nil {
				return err
			}
			chain = append(chain, sub...)
		}
		*s = chain
		return nil
	default:
		return fmt.Errorf("transform spec must be a string, object, or list, got %s", trimmed)
	}
}

// MappingType enumerates the closed set of response mapping variants.
type MappingType string

const (
	MappingDirect      MappingType = "direct"
	MappingArray       MappingType = "array"
	MappingConditional MappingType = "conditional"
	MappingComputed    MappingType = "computed"
	MappingNested      MappingType = "nested"
	MappingCustom      MappingType = "custom"
)

// MappingRule describes how one output field is computed from a raw
// response. Exactly one variant applies, discriminated by Type; the other
// fields belong to their variant and are ignored elsewhere. A bare JSON
// string is shorthand for a direct rule with that source path.
type MappingRule struct {
	Type MappingType `json:"type"`

	// direct, array, nested
	Source string `json:"source,omitempty"`

	// direct
	Default   any            `json:"default,omitempty"`
	Transform *TransformSpec `json:"transform,omitempty"`

	// array
	ItemMapping map[string]*MappingRule `json:"item_mapping,omitempty"`
	Filter      string                  `json:"filter,omitempty"`
	Sort        string                  `json:"sort,omitempty"`
	Order       string                  `json:"order,omitempty"` // asc (default) | desc
	Limit       int                     `json:"limit,omitempty"`

	// conditional
	Condition string       `json:"condition,omitempty"`
	TrueRule  *MappingRule `json:"true_rule,omitempty"`
	FalseRule *MappingRule `json:"false_rule,omitempty"`

	// computed
	Expression    string         `json:"expression,omitempty"`
	StaticContext map[string]any `json:"static_context,omitempty"`

	// nested
	Mapping map[string]*MappingRule `json:"mapping,omitempty"`

	// custom
	Name   string         `json:"name,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

func (r *MappingRule) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var source string
		if err := json.Unmarshal(data, &source); err != nil {
			return err
		}
		*r = MappingRule{Type: MappingDirect, Source: source}
		return nil
	}

	type alias MappingRule
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.Type == "" {
		a.Type = MappingDirect
	}
	*r = MappingRule(a)
	return nil
}

// DeclaredFields returns every field the rule set declares a rule for,
// including required/optional fields without an explicit FieldRule entry.
// Order is deterministic: required, then optional, then remaining rule
// keys sorted.
func (rs *InterfaceRuleSet) DeclaredFields() []string {
	seen := make(map[string]struct{})
	var fields []string
	add := func(name string) {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			fields = append(fields, name)
		}
	}
	for _, f := range rs.RequiredFields {
		add(f)
	}
	for _, f := range rs.OptionalFields {
		add(f)
	}
	var rest []string
	for f := range rs.FieldRules {
		if _, ok := seen[f]; !ok {
			rest = append(rest, f)
		}
	}
	sort.Strings(rest)
	for _, f := range rest {
		add(f)
	}
	return fields
}

// RuleFor returns the effective FieldRule for a field, synthesizing a
// minimal rule for required/optional fields declared without one.
func (rs *InterfaceRuleSet) RuleFor(name string) *FieldRule {
	if rule, ok := rs.FieldRules[name]; ok && rule != nil {
		if !rule.Required && rs.isRequired(name) {
			clone := *rule
			clone.Required = true
			return &clone
		}
		return rule
	}
	return &FieldRule{Required: rs.isRequired(name)}
}

func (rs *InterfaceRuleSet) isRequired(name string) bool {
	for _, f := range rs.RequiredFields {
		if f == name {
			return true
		}
	}
	return false
}

// DateLayout normalizes a configured date format to a Go time layout.
// Accepts Go layouts directly and the common YYYY-MM-DD token style.
// An empty format defaults to "2006-01-02".
func DateLayout(format string) string {
	if format == "" {
		return "2006-01-02"
	}
	if strings.ContainsAny(format, "YDhms") || strings.Contains(format, "MM") {
		r := strings.NewReplacer(
			"YYYY", "2006", "yyyy", "2006",
			"MM", "01", "DD", "02", "dd", "02",
			"HH", "15", "hh", "15",
			"mm", "04", "ss", "05",
		)
		return r.Replace(format)
	}
	return format
}

// IsEmpty reports whether a value counts as empty for required/dependency
// checks: nil, blank string, or zero-length collection. Zero numbers and
// false are NOT empty.
func IsEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

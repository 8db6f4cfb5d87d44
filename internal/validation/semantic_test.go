package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulewire/rulewire/internal/expressions"
	"github.com/rulewire/rulewire/pkg/schema"
)

// stubRegistries resolves a fixed name set.
type stubRegistries struct {
	transforms map[string]bool
	mappers    map[string]bool
}

func (s stubRegistries) HasTransform(name string) bool { return s.transforms[name] }
func (s stubRegistries) HasMapper(name string) bool    { return s.mappers[name] }

func newSemanticValidator(t *testing.T) *SemanticValidator {
	t.Helper()
	eval, err := expressions.NewEvaluator(nil)
	require.NoError(t, err)
	return NewSemanticValidator(eval, stubRegistries{
		transforms: map[string]bool{"trim": true, "upper": true, "expression": true, "mask_id": true},
		mappers:    map[string]bool{"summarize": true},
	})
}

func violations(t *testing.T, err error) []string {
	t.Helper()
	require.Error(t, err)
	re, ok := err.(*schema.RulewireError)
	require.True(t, ok)
	vs, _ := re.Details["violations"].([]string)
	return vs
}

// --- Clean rule sets ---

func TestSemantic_CleanRuleSet(t *testing.T) {
	v := newSemanticValidator(t)
	rs := &schema.InterfaceRuleSet{
		APICode: "FSI01",
		FieldRules: map[string]*schema.FieldRule{
			"psn_no": {Pattern: `^[0-9]+$`, Expression: "value != nil"},
		},
		ConditionalRules: []*schema.ConditionalRule{
			{Type: schema.ConditionalRequiredIf, Condition: `a == 1`, Fields: []string{"b"}},
		},
		Transforms: map[string]schema.TransformSpec{
			"psn_no": {{Type: "trim"}, {Type: "mask_id"}},
		},
		ResponseMapping: map[string]*schema.MappingRule{
			"id":      {Type: schema.MappingDirect, Source: "data.id"},
			"summary": {Type: schema.MappingCustom, Name: "summarize"},
		},
	}
	require.NoError(t, v.Validate(rs))
}

func TestSemantic_NilRuleSet(t *testing.T) {
	v := newSemanticValidator(t)
	require.Error(t, v.Validate(nil))
}

// --- Violations accumulate ---

func TestSemantic_CollectsAllViolations(t *testing.T) {
	v := newSemanticValidator(t)
	rs := &schema.InterfaceRuleSet{
		APICode: "BAD",
		FieldRules: map[string]*schema.FieldRule{
			"a": {Pattern: `([`, Expression: "1 +"},
		},
		Transforms: map[string]schema.TransformSpec{
			"a": {{Type: "no_such_transform"}},
		},
	}

	vs := violations(t, v.Validate(rs))
	assert.Len(t, vs, 3)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(v.Validate(rs)))
}

// --- Conditional rules ---

func TestSemantic_ConditionalRequirements(t *testing.T) {
	v := newSemanticValidator(t)

	t.Run("required_if without condition", func(t *testing.T) {
		err := v.Validate(&schema.InterfaceRuleSet{ConditionalRules: []*schema.ConditionalRule{
			{Type: schema.ConditionalRequiredIf, Fields: []string{"a"}},
		}})
		require.Error(t, err)
	})

	t.Run("mutual_exclusive with one field", func(t *testing.T) {
		err := v.Validate(&schema.InterfaceRuleSet{ConditionalRules: []*schema.ConditionalRule{
			{Type: schema.ConditionalMutualExclusive, Fields: []string{"a"}},
		}})
		require.Error(t, err)
	})

	t.Run("sub_validation without field rules", func(t *testing.T) {
		err := v.Validate(&schema.InterfaceRuleSet{ConditionalRules: []*schema.ConditionalRule{
			{Type: schema.ConditionalSubValidation},
		}})
		require.Error(t, err)
	})

	t.Run("unknown type", func(t *testing.T) {
		err := v.Validate(&schema.InterfaceRuleSet{ConditionalRules: []*schema.ConditionalRule{
			{Type: "exactly_two"},
		}})
		require.Error(t, err)
	})
}

// --- Transforms ---

func TestSemantic_ExpressionTransformParam(t *testing.T) {
	v := newSemanticValidator(t)

	t.Run("missing param", func(t *testing.T) {
		err := v.Validate(&schema.InterfaceRuleSet{Transforms: map[string]schema.TransformSpec{
			"f": {{Type: "expression"}},
		}})
		require.Error(t, err)
	})

	t.Run("param does not compile", func(t *testing.T) {
		err := v.Validate(&schema.InterfaceRuleSet{Transforms: map[string]schema.TransformSpec{
			"f": {{Type: "expression", Params: map[string]any{"expression": "1 +"}}},
		}})
		require.Error(t, err)
	})

	t.Run("compiling param passes", func(t *testing.T) {
		err := v.Validate(&schema.InterfaceRuleSet{Transforms: map[string]schema.TransformSpec{
			"f": {{Type: "expression", Params: map[string]any{"expression": "value + 1"}}},
		}})
		require.NoError(t, err)
	})
}

// --- Mapping variants ---

func TestSemantic_MappingVariantRequirements(t *testing.T) {
	v := newSemanticValidator(t)

	check := func(rule *schema.MappingRule) error {
		return v.Validate(&schema.InterfaceRuleSet{
			ResponseMapping: map[string]*schema.MappingRule{"out": rule},
		})
	}

	t.Run("direct without source", func(t *testing.T) {
		require.Error(t, check(&schema.MappingRule{Type: schema.MappingDirect}))
	})

	t.Run("array without item_mapping", func(t *testing.T) {
		require.Error(t, check(&schema.MappingRule{Type: schema.MappingArray, Source: "data.list"}))
	})

	t.Run("array filter must compile", func(t *testing.T) {
		require.Error(t, check(&schema.MappingRule{
			Type: schema.MappingArray, Source: "s", Filter: "x >",
			ItemMapping: map[string]*schema.MappingRule{"n": {Type: schema.MappingDirect, Source: "n"}},
		}))
	})

	t.Run("conditional without branches", func(t *testing.T) {
		require.Error(t, check(&schema.MappingRule{Type: schema.MappingConditional, Condition: "a == 1"}))
	})

	t.Run("computed without expression", func(t *testing.T) {
		require.Error(t, check(&schema.MappingRule{Type: schema.MappingComputed}))
	})

	t.Run("nested without mapping", func(t *testing.T) {
		require.Error(t, check(&schema.MappingRule{Type: schema.MappingNested, Source: "data.obj"}))
	})

	t.Run("custom name must resolve", func(t *testing.T) {
		require.Error(t, check(&schema.MappingRule{Type: schema.MappingCustom, Name: "nope"}))
		require.NoError(t, check(&schema.MappingRule{Type: schema.MappingCustom, Name: "summarize"}))
	})

	t.Run("recursion into branches", func(t *testing.T) {
		require.Error(t, check(&schema.MappingRule{
			Type:      schema.MappingConditional,
			Condition: "a == 1",
			TrueRule:  &schema.MappingRule{Type: schema.MappingDirect}, // missing source
		}))
	})
}

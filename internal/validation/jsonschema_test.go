package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulewire/rulewire/pkg/schema"
)

func newStructuralValidator(t *testing.T) *StructuralValidator {
	t.Helper()
	v, err := NewStructuralValidator()
	require.NoError(t, err)
	return v
}

// --- Valid documents ---

func TestStructural_MinimalDocument(t *testing.T) {
	v := newStructuralValidator(t)
	require.NoError(t, v.ValidateRaw([]byte(`{"api_code": "FSI01"}`)))
}

func TestStructural_FullDocument(t *testing.T) {
	v := newStructuralValidator(t)
	raw := `{
		"api_code": "FSI01",
		"region": "110000",
		"required_fields": ["psn_no"],
		"field_rules": {
			"psn_no": {"type": "string", "pattern": "^[0-9]+$", "max_length": 30},
			"begin_date": {"type": "date", "date_format": "YYYY-MM-DD"}
		},
		"defaults": {"channel": "web"},
		"conditional_rules": [
			{"type": "required_if", "condition": "med_type == \"21\"", "fields": ["hosp_no"]}
		],
		"transforms": {
			"psn_no": ["trim", {"type": "pad", "params": {"length": 10, "char": "0"}}]
		},
		"response_mapping": {
			"id": "data.psn_no",
			"people": {
				"type": "array",
				"source": "data.list",
				"item_mapping": {"name": "psn_name"},
				"filter": "item.valid == true",
				"sort": "name",
				"order": "desc",
				"limit": 10
			}
		}
	}`
	require.NoError(t, v.ValidateRaw([]byte(raw)))
}

// --- Invalid documents ---

func TestStructural_MissingAPICode(t *testing.T) {
	v := newStructuralValidator(t)
	err := v.ValidateRaw([]byte(`{"region": "110000"}`))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestStructural_UnknownTopLevelKey(t *testing.T) {
	v := newStructuralValidator(t)
	err := v.ValidateRaw([]byte(`{"api_code": "A", "rules": {}}`))
	require.Error(t, err)
}

func TestStructural_BadFieldRuleType(t *testing.T) {
	v := newStructuralValidator(t)
	err := v.ValidateRaw([]byte(`{
		"api_code": "A",
		"field_rules": {"f": {"type": "uuid"}}
	}`))
	require.Error(t, err)
}

func TestStructural_BadConditionalType(t *testing.T) {
	v := newStructuralValidator(t)
	err := v.ValidateRaw([]byte(`{
		"api_code": "A",
		"conditional_rules": [{"type": "exactly_two", "fields": ["a"]}]
	}`))
	require.Error(t, err)
}

func TestStructural_BadMappingOrder(t *testing.T) {
	v := newStructuralValidator(t)
	err := v.ValidateRaw([]byte(`{
		"api_code": "A",
		"response_mapping": {"x": {"type": "array", "source": "s", "order": "descending"}}
	}`))
	require.Error(t, err)
}

func TestStructural_NotJSON(t *testing.T) {
	v := newStructuralValidator(t)
	err := v.ValidateRaw([]byte(`{not json`))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestStructural_EmptyDocument(t *testing.T) {
	v := newStructuralValidator(t)
	require.Error(t, v.ValidateRaw(nil))
}

// --- In-memory round trip ---

func TestStructural_ValidateRuleSet(t *testing.T) {
	v := newStructuralValidator(t)

	rs := &schema.InterfaceRuleSet{
		APICode:        "FSI01",
		RequiredFields: []string{"psn_no"},
		FieldRules: map[string]*schema.FieldRule{
			"psn_no": {Type: "string"},
		},
	}
	require.NoError(t, v.ValidateRuleSet(rs))
	require.Error(t, v.ValidateRuleSet(nil))
}

package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rulewire/rulewire/pkg/schema"
)

// rulesetSchemaJSON is the JSON Schema for InterfaceRuleSet validation.
// Embedded as a constant to avoid filesystem dependencies.
const rulesetSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://rulewire.dev/schemas/ruleset.json",
  "type": "object",
  "required": ["api_code"],
  "properties": {
    "api_code": { "type": "string", "minLength": 1 },
    "region": { "type": "string" },
    "field_rules": {
      "type": "object",
      "additionalProperties": { "$ref": "#/$defs/field_rule" }
    },
    "required_fields": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 }
    },
    "optional_fields": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 }
    },
    "defaults": { "type": "object" },
    "conditional_rules": {
      "type": "array",
      "items": { "$ref": "#/$defs/conditional_rule" }
    },
    "transforms": {
      "type": "object",
      "additionalProperties": { "$ref": "#/$defs/transform_spec" }
    },
    "response_mapping": {
      "type": "object",
      "additionalProperties": { "$ref": "#/$defs/mapping_rule" }
    },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "field_rule": {
      "type": "object",
      "properties": {
        "required": { "type": "boolean" },
        "type": {
          "type": "string",
          "enum": ["string", "int", "float", "number", "bool", "date", "array", "object"]
        },
        "min_length": { "type": "integer", "minimum": 0 },
        "max_length": { "type": "integer", "minimum": 0 },
        "length": { "type": "integer", "minimum": 0 },
        "min_value": { "type": "number" },
        "max_value": { "type": "number" },
        "pattern": { "type": "string" },
        "pattern_message": { "type": "string" },
        "enum": { "type": "array", "minItems": 1 },
        "date_format": { "type": "string" },
        "min_date": { "type": "string" },
        "max_date": { "type": "string" },
        "expression": { "type": "string" },
        "expression_message": { "type": "string" },
        "dependencies": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["condition", "fields"],
            "properties": {
              "condition": { "type": "string", "minLength": 1 },
              "fields": {
                "type": "array",
                "minItems": 1,
                "items": { "type": "string", "minLength": 1 }
              }
            },
            "additionalProperties": false
          }
        }
      },
      "additionalProperties": false
    },
    "conditional_rule": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {
          "type": "string",
          "enum": ["required_if", "mutual_exclusive", "at_least_one", "sub_validation"]
        },
        "condition": { "type": "string" },
        "fields": {
          "type": "array",
          "items": { "type": "string", "minLength": 1 }
        },
        "message": { "type": "string" },
        "field_rules": {
          "type": "object",
          "additionalProperties": { "$ref": "#/$defs/field_rule" }
        }
      },
      "additionalProperties": false
    },
    "transform_step": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": { "type": "string", "minLength": 1 },
        "params": { "type": "object" }
      },
      "additionalProperties": false
    },
    "transform_spec": {
      "oneOf": [
        { "type": "string", "minLength": 1 },
        { "$ref": "#/$defs/transform_step" },
        {
          "type": "array",
          "minItems": 1,
          "items": {
            "oneOf": [
              { "type": "string", "minLength": 1 },
              { "$ref": "#/$defs/transform_step" }
            ]
          }
        }
      ]
    },
    "mapping_rule": {
      "oneOf": [
        { "type": "string", "minLength": 1 },
        {
          "type": "object",
          "properties": {
            "type": {
              "type": "string",
              "enum": ["direct", "array", "conditional", "computed", "nested", "custom"]
            },
            "source": { "type": "string" },
            "default": {},
            "transform": { "$ref": "#/$defs/transform_spec" },
            "item_mapping": {
              "type": "object",
              "additionalProperties": { "$ref": "#/$defs/mapping_rule" }
            },
            "filter": { "type": "string" },
            "sort": { "type": "string" },
            "order": { "type": "string", "enum": ["asc", "desc"] },
            "limit": { "type": "integer", "minimum": 0 },
            "condition": { "type": "string" },
            "true_rule": { "$ref": "#/$defs/mapping_rule" },
            "false_rule": { "$ref": "#/$defs/mapping_rule" },
            "expression": { "type": "string" },
            "static_context": { "type": "object" },
            "mapping": {
              "type": "object",
              "additionalProperties": { "$ref": "#/$defs/mapping_rule" }
            },
            "name": { "type": "string" },
            "config": { "type": "object" }
          },
          "additionalProperties": false
        }
      ]
    }
  }
}`

// StructuralValidator validates serialized rule sets against the embedded
// JSON Schema (Draft 2020-12). Safe for concurrent use.
type StructuralValidator struct {
	rulesetSchema *jsonschema.Schema
}

// NewStructuralValidator creates a StructuralValidator with the rule-set
// schema pre-compiled.
func NewStructuralValidator() (*StructuralValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(rulesetSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal ruleset schema: %w", err)
	}
	if err := c.AddResource("https://rulewire.dev/schemas/ruleset.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add ruleset schema resource: %w", err)
	}

	compiled, err := c.Compile("https://rulewire.dev/schemas/ruleset.json")
	if err != nil {
		return nil, fmt.Errorf("compile ruleset schema: %w", err)
	}

	return &StructuralValidator{rulesetSchema: compiled}, nil
}

// ValidateRaw validates a serialized rule set document.
func (v *StructuralValidator) ValidateRaw(raw []byte) error {
	if len(raw) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "rule set document is empty")
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "rule set document is not valid JSON").WithCause(err)
	}
	if err := v.rulesetSchema.Validate(doc); err != nil {
		return toRulewireError(err)
	}
	return nil
}

// ValidateRuleSet validates an in-memory rule set by round-tripping it
// through JSON.
func (v *StructuralValidator) ValidateRuleSet(rs *schema.InterfaceRuleSet) error {
	if rs == nil {
		return schema.NewError(schema.ErrCodeValidation, "rule set is nil")
	}
	raw, err := json.Marshal(rs)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize rule set").WithCause(err)
	}
	return v.ValidateRaw(raw)
}

// toRulewireError converts a jsonschema.ValidationError into a RulewireError
// with flattened, actionable violation messages.
func toRulewireError(err error) *schema.RulewireError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("rule set validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

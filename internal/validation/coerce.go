package validation

import "strconv"

// Coerce converts a value to its declared rule type where a lossless
// conversion exists (numeric-as-string, integral floats, boolean strings).
// It returns the input unchanged when no conversion applies; flagging the
// mismatch is the validator's job, not Coerce's.
func Coerce(value any, declaredType string) any {
	if value == nil {
		return nil
	}
	switch declaredType {
	case "int":
		if n, ok := toInt(value); ok {
			return n
		}
	case "float", "number":
		if f, ok := toFloat(value); ok {
			return f
		}
	case "string":
		if _, ok := value.(string); !ok {
			switch value.(type) {
			case int, int32, int64, float64, float32, bool:
				return stringify(value)
			}
		}
	case "bool":
		switch val := value.(type) {
		case bool:
			return val
		case string:
			if b, err := strconv.ParseBool(val); err == nil {
				return b
			}
		}
	}
	return value
}

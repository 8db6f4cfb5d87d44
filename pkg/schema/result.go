package schema

// ValidationResult accumulates field-keyed errors and warnings from a
// validation pass. Valid always mirrors the error map: it is true exactly
// when Errors is empty. Use the Add* helpers instead of mutating the maps
// directly so the invariant holds.
type ValidationResult struct {
	Valid         bool                `json:"valid"`
	Errors        map[string][]string `json:"errors,omitempty"`
	Warnings      map[string][]string `json:"warnings,omitempty"`
	ValidatedData map[string]any      `json:"validated_data,omitempty"`
}

// NewValidationResult creates an empty, valid result.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{
		Valid:    true,
		Errors:   make(map[string][]string),
		Warnings: make(map[string][]string),
	}
}

// AddError appends an error message for a field and marks the result invalid.
func (r *ValidationResult) AddError(field, message string) {
	if r.Errors == nil {
		r.Errors = make(map[string][]string)
	}
	r.Errors[field] = append(r.Errors[field], message)
	r.Valid = false
}

// AddWarning appends a warning message for a field. Warnings do not affect
// validity.
func (r *ValidationResult) AddWarning(field, message string) {
	if r.Warnings == nil {
		r.Warnings = make(map[string][]string)
	}
	r.Warnings[field] = append(r.Warnings[field], message)
}

// Merge folds another result into this one: error and warning lists are
// unioned per field (preserving order, other's entries appended), and the
// result is valid only if both inputs were.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	for field, msgs := range other.Errors {
		for _, m := range msgs {
			r.AddError(field, m)
		}
	}
	for field, msgs := range other.Warnings {
		for _, m := range msgs {
			r.AddWarning(field, m)
		}
	}
}

// ErrorCount returns the total number of error messages across all fields.
func (r *ValidationResult) ErrorCount() int {
	n := 0
	for _, msgs := range r.Errors {
		n += len(msgs)
	}
	return n
}

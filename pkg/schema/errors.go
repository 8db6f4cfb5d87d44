package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeExpression        = "EXPRESSION_ERROR"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeTransform         = "TRANSFORM_ERROR"
	ErrCodeMapping           = "MAPPING_ERROR"
	ErrCodeExecutor          = "EXECUTOR_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeConfigNotFound    = "CONFIG_NOT_FOUND"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeCancelled         = "CANCELLED"
)

// RulewireError is the structured error type for all rulewire operations.
type RulewireError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Field   string         `json:"field,omitempty"`
	Cause   error          `json:"-"`
}

func (e *RulewireError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] field %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *RulewireError) Unwrap() error {
	return e.Cause
}

// NewError creates a new RulewireError.
func NewError(code, message string) *RulewireError {
	return &RulewireError{Code: code, Message: message}
}

// NewErrorf creates a new RulewireError with a formatted message.
func NewErrorf(code, format string, args ...any) *RulewireError {
	return &RulewireError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithField attaches the field name the error relates to.
func (e *RulewireError) WithField(field string) *RulewireError {
	e.Field = field
	return e
}

// WithCause attaches an underlying cause.
func (e *RulewireError) WithCause(err error) *RulewireError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *RulewireError) WithDetails(details map[string]any) *RulewireError {
	e.Details = details
	return e
}

// CodeOf returns the rulewire error code of err, or "" if err is not a
// RulewireError.
func CodeOf(err error) string {
	if re, ok := err.(*RulewireError); ok {
		return re.Code
	}
	return ""
}

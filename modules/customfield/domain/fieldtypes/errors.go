package fieldtypes

import (
	"fmt"
)

type Reason string

const (
	ReasonValidationFailed Reason = "validation_failed"
	ReasonNotFound         Reason = "not_found"
	ReasonForbidden        Reason = "forbidden"
	ReasonServerError      Reason = "server_error"
)

// ValidationError is the only error a conversion returns for bad input.
// Validate translates it into an ErrorCollection entry.
type ValidationError struct {
	Code    string
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(code string, format string, args ...any) error {
	return &ValidationError{Code: code, Reason: ReasonValidationFailed, Message: fmt.Sprintf(format, args...)}
}

func notFound(code string, format string, args ...any) error {
	return &ValidationError{Code: code, Reason: ReasonNotFound, Message: fmt.Sprintf(format, args...)}
}

// ErrorCollection receives validation failures keyed by field id.
type ErrorCollection interface {
	AddError(fieldID string, code string, message string, reason Reason)
}

type FieldError struct {
	FieldID string `json:"field_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  Reason `json:"reason"`
}

type Errors struct {
	items []FieldError
}

func (e *Errors) AddError(fieldID string, code string, message string, reason Reason) {
	e.items = append(e.items, FieldError{FieldID: fieldID, Code: code, Message: message, Reason: reason})
}

func (e *Errors) HasErrors() bool { return len(e.items) > 0 }

func (e *Errors) Items() []FieldError {
	return append([]FieldError(nil), e.items...)
}

// ForField returns the first error recorded for fieldID.
func (e *Errors) ForField(fieldID string) (FieldError, bool) {
	for _, it := range e.items {
		if it.FieldID == fieldID {
			return it, true
		}
	}
	return FieldError{}, false
}

package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used across all layers.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrValidation      = errors.New("validation error")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrConflict        = errors.New("conflict")
	ErrExternalService = errors.New("external service unavailable")
)

// FieldError describes a validation error for a specific field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError contains a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation: %s: %s", e.Errors[0].Field, e.Errors[0].Message)
	}
	return fmt.Sprintf("validation: %d errors", len(e.Errors))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Errors: []FieldError{{Field: field, Message: message}},
	}
}

// NewValidationErrors creates a ValidationError from multiple field errors.
func NewValidationErrors(errs []FieldError) *ValidationError {
	return &ValidationError{Errors: errs}
}

// TransitionError reports a conditional status update that found the row in
// a state other than the expected one. It unwraps to ErrConflict so callers
// can treat it as a lost race and move on to the next candidate.
type TransitionError struct {
	Entity   string
	ID       string
	Expected []string
	Actual   string
}

func (e *TransitionError) Error() string {
	if e.Actual == "" {
		return fmt.Sprintf("%s %s: status is not one of %v", e.Entity, e.ID, e.Expected)
	}
	return fmt.Sprintf("%s %s: status %s, expected one of %v", e.Entity, e.ID, e.Actual, e.Expected)
}

func (e *TransitionError) Unwrap() error { return ErrConflict }

// NewClosedRequestError reports a write refused because request id is no
// longer open. actual is its current status.
func NewClosedRequestError(id string, actual RequestStatus) *TransitionError {
	open := OpenRequestStatuses()
	expected := make([]string, 0, len(open))
	for _, st := range open {
		expected = append(expected, st.String())
	}
	return &TransitionError{Entity: "request", ID: id, Expected: expected, Actual: actual.String()}
}

// IsClosedRequest reports whether err was caused by a closed request rather
// than by the unit or match being written.
func IsClosedRequest(err error) bool {
	var te *TransitionError
	return errors.As(err, &te) && te.Entity == "request"
}

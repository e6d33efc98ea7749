package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrCommitConflict is returned when a draft commit loses the per-draft
	// lock to a concurrent commit. Safe to retry after the holder finishes.
	ErrCommitConflict = errors.New("commit conflict")

	// ErrUpstream is returned when a model provider or another dependency
	// outside this service failed.
	ErrUpstream = errors.New("upstream dependency failed")

	// ErrTimeout is returned when a query or node exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// GuardrailBlock reports that a guardrail stage refused the request. It is
// a domain outcome, not a transport failure: the API layer renders it as a
// normal response with action=escalate.
type GuardrailBlock struct {
	Stage     string // "input" or "output"
	Reason    string
	RiskScore float64
}

func (e *GuardrailBlock) Error() string {
	return fmt.Sprintf("guardrail block at %s stage: %s (risk %.2f)", e.Stage, e.Reason, e.RiskScore)
}

// IsGuardrailBlock checks if an error is a guardrail block
func IsGuardrailBlock(err error) bool {
	var gb *GuardrailBlock
	return errors.As(err, &gb)
}

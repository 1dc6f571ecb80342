package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the retrieval failure taxonomy.
var (
	// ErrInvalidInput marks malformed caller input. Fails fast, never retried.
	ErrInvalidInput = errors.New("invalid input")
	// ErrModelUnavailable marks embedder initialization or encoding failure.
	ErrModelUnavailable = errors.New("embedding model unavailable")
	// ErrIndexUnavailable marks a vector index network or backend failure.
	ErrIndexUnavailable = errors.New("vector index unavailable")
	// ErrCatalogUnavailable marks a catalog store failure. There is no
	// fallback below the catalog; callers surface it unchanged.
	ErrCatalogUnavailable = errors.New("catalog unavailable")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

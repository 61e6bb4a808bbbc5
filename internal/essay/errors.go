package essay

import (
	"errors"
	"fmt"

	"groundwrite/api/internal/generation"
)

// ValidationError is bad caller input. It never reaches the generator.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// GenerationError is a failure of the external generation capability.
type GenerationError = generation.Error

// NotFoundError is an unknown outline id or an out-of-range paragraph index.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ErrExpansionInProgress rejects a second expansion of a paragraph that is
// still Expanding.
var ErrExpansionInProgress = errors.New("paragraph expansion already in progress")

// ErrExpansionSuperseded is returned when an expansion finishes after its
// Expanding mark was reclaimed by a newer call. The newer result is kept.
var ErrExpansionSuperseded = errors.New("paragraph expansion was superseded")

// ExpansionError names the paragraph whose expansion failed.
type ExpansionError struct {
	Index int
	Err   error
}

func (e *ExpansionError) Error() string {
	return fmt.Sprintf("paragraph %d: %v", e.Index, e.Err)
}

func (e *ExpansionError) Unwrap() error { return e.Err }

func validation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

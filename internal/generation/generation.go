// Package generation is the boundary to the external text-generation capability.
package generation

import (
	"context"
	"errors"
	"fmt"
)

// Generator produces text for a system prompt and a user prompt.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Func adapts a plain function to Generator.
type Func func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

func (f Func) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, systemPrompt, userPrompt)
}

// Error is a failure of the generation capability: transport, non-2xx status,
// timeout or unusable output. Status is the HTTP status when there was one.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Status != 0 {
		return fmt.Sprintf("generation failed (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("generation failed: %s", e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap converts err into *Error unless it already is one.
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}
	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Message: "timed out: " + message, Err: err}
	}
	return &Error{Message: fmt.Sprintf("%s: %v", message, err), Err: err}
}

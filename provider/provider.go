// Package provider defines the reasoning provider interface that turns a
// prompt into plan or critique text.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Provider is the reasoning backend. The core treats its output as an
// opaque string and performs its own parsing.
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic", "mock").
	Name() string

	// Generate sends prompt and returns the raw completion text.
	Generate(ctx context.Context, prompt string) (string, error)
}

// SystemPrompter is implemented by providers that accept standing
// instructions apart from the prompt itself.
type SystemPrompter interface {
	GenerateWithSystem(ctx context.Context, system, prompt string) (string, error)
}

// Complete sends prompt to p with system as standing instructions. A
// provider without a system channel receives them ahead of the prompt.
func Complete(ctx context.Context, p Provider, system, prompt string) (string, error) {
	if system == "" {
		return p.Generate(ctx, prompt)
	}
	if sp, ok := p.(SystemPrompter); ok {
		return sp.GenerateWithSystem(ctx, system, prompt)
	}
	return p.Generate(ctx, system+"\n\n"+prompt)
}

// ErrEmptyResponse is returned when the backend answers with no text.
var ErrEmptyResponse = errors.New("provider returned an empty response")

// APIError is a non-200 answer from a remote backend.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode == 529 || e.StatusCode >= 500
}

// Package mock provides a scripted reasoning provider for testing.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/GoCodeAlone/guild/provider"
)

const defaultResponse = `{"reasoning": "Task acknowledged.", "actions": [], "critique": "Nothing further to do.", "is_complete": true}`

// ErrScripted is the error returned by a Fail step.
var ErrScripted = errors.New("mock: scripted failure")

// Step is one scripted reply: either text or an error.
type Step struct {
	Text string
	Err  error
}

// Fail returns a step that fails with err, or ErrScripted when err is nil.
func Fail(err error) Step {
	if err == nil {
		err = ErrScripted
	}
	return Step{Err: err}
}

// MockProvider implements provider.Provider for testing.
// It returns scripted replies and remembers every prompt it was given.
type MockProvider struct {
	mu      sync.Mutex
	steps   []Step
	idx     int
	cycle   bool
	prompts []string
}

// New creates a MockProvider that cycles through the given responses.
func New(responses ...string) *MockProvider {
	steps := make([]Step, len(responses))
	for i, r := range responses {
		steps[i] = Step{Text: r}
	}
	return &MockProvider{steps: steps, cycle: true}
}

// Script creates a MockProvider that plays steps once, in order. Once
// the script is exhausted every call fails with ErrScripted.
func Script(steps ...Step) *MockProvider {
	return &MockProvider{steps: steps}
}

// Name returns the provider identifier.
func (m *MockProvider) Name() string { return "mock" }

// Generate returns the next scripted reply.
func (m *MockProvider) Generate(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)

	if len(m.steps) == 0 {
		return defaultResponse, nil
	}
	var step Step
	switch {
	case m.cycle:
		step = m.steps[m.idx%len(m.steps)]
	case m.idx < len(m.steps):
		step = m.steps[m.idx]
	default:
		return "", ErrScripted
	}
	m.idx++
	if step.Err != nil {
		return "", step.Err
	}
	return step.Text, nil
}

// Prompts returns every prompt received so far.
func (m *MockProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Calls returns the number of Generate calls.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

var _ provider.Provider = (*MockProvider)(nil)

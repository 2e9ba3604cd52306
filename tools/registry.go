// Package tools routes planned actions to registered handlers.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/GoCodeAlone/guild/task"
)

// Handler executes one action. A returned error, or a panic, is an
// unexpected fault and becomes a fatal_error result that halts the plan.
// Bad input is reported with an error-status result and a nil error.
type Handler func(ctx context.Context, env *Env, payload map[string]any) (task.ActionResult, error)

// Tool is a named capability an agent can request in a plan.
type Tool struct {
	Name        string
	Description string
	Params      string // payload shape shown in the tool manifest
	Handler     Handler
}

// Registry maps tool names to tools. Registration happens at startup;
// lookups are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" || t.Handler == nil {
		return fmt.Errorf("tool %q: name and handler are required", t.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// MustRegister is Register for startup wiring; it panics on error.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Manifest returns the tools an agent with the given capabilities may
// use, sorted by name. Empty capabilities allow every tool.
func (r *Registry) Manifest(capabilities []string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for name, t := range r.tools {
		if allowed(capabilities, name) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func allowed(capabilities []string, name string) bool {
	if len(capabilities) == 0 {
		return true
	}
	for _, c := range capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// Builtin returns a registry holding every built-in tool.
func Builtin() *Registry {
	r := NewRegistry()
	r.MustRegister(FileTools()...)
	r.MustRegister(MemoryTools()...)
	r.MustRegister(OrgTools()...)
	return r
}

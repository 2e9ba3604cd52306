// Package agent implements the per-task plan, execute and reflect loop
// a role-bound worker runs each time the scheduler dispatches a task to it.
package agent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/GoCodeAlone/guild/comms"
	"github.com/GoCodeAlone/guild/config"
	"github.com/GoCodeAlone/guild/provider"
	"github.com/GoCodeAlone/guild/task"
	"github.com/GoCodeAlone/guild/tools"
)

// DefaultMaxIterations bounds the cognition-loop calls spent on one task.
const DefaultMaxIterations = 3

// Status represents the current state of an agent.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
)

// Info provides read-only metadata about an agent.
type Info struct {
	ID           string           `json:"id"`
	Role         string           `json:"role"`
	Parent       string           `json:"parent,omitempty"`
	Type         config.AgentType `json:"type"`
	Capabilities []string         `json:"capabilities,omitempty"`
	Status       Status           `json:"status"`
	CurrentTask  string           `json:"current_task,omitempty"`
}

// Workplace is the organization as seen from one agent: the shared
// services it reaches while working on a task. The company owns them.
type Workplace interface {
	Graph() *task.Graph
	Provider() provider.Provider
	Router() *tools.Router
	// Env builds the handler environment for one plan of t run by a.
	Env(t task.Task, a *Agent) *tools.Env
	Bus() comms.Bus
	MaxIterations() int
}

// Agent is a role-bound worker.
type Agent struct {
	profile config.AgentConfig
	work    Workplace
	logger  *slog.Logger

	mu      sync.RWMutex
	status  Status
	curTask string
}

// New creates an agent from its roster entry.
func New(profile config.AgentConfig, work Workplace, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		profile: profile,
		work:    work,
		logger:  logger.With(slog.String("agent_id", profile.ID)),
		status:  StatusIdle,
	}
}

func (a *Agent) ID() string                  { return a.profile.ID }
func (a *Agent) Role() string                { return a.profile.Role }
func (a *Agent) Human() bool                 { return a.profile.Human() }
func (a *Agent) Profile() config.AgentConfig { return a.profile }

// Capabilities returns the tool allow-list. Empty means every tool.
func (a *Agent) Capabilities() []string {
	return append([]string(nil), a.profile.Capabilities...)
}

// Info returns the agent's current metadata.
func (a *Agent) Info() Info {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Info{
		ID:           a.profile.ID,
		Role:         a.profile.Role,
		Parent:       a.profile.Parent,
		Type:         a.profile.Type,
		Capabilities: a.Capabilities(),
		Status:       a.status,
		CurrentTask:  a.curTask,
	}
}

func (a *Agent) setWorking(taskID string) func() {
	a.mu.Lock()
	a.status = StatusWorking
	a.curTask = taskID
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		a.status = StatusIdle
		a.curTask = ""
		a.mu.Unlock()
	}
}

// Respond answers a free-form prompt in this agent's persona. It is used
// when a subordinate's question is escalated to this agent.
func (a *Agent) Respond(ctx context.Context, prompt string) (string, error) {
	return provider.Complete(ctx, a.work.Provider(), a.persona(), prompt)
}

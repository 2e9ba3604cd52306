// Package task defines the task model and the state machine governing its lifecycle.
package task

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusBlocked, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Owner is the delegator identity of tasks submitted by the human operator.
const Owner = "owner"

var (
	ErrNotFound              = errors.New("task not found")
	ErrTerminal              = errors.New("task is in a terminal state")
	ErrInvalidStatus         = errors.New("invalid task status")
	ErrSelfDependency        = errors.New("task cannot depend on itself")
	ErrCycle                 = errors.New("dependency would create a cycle")
	ErrDependenciesPending   = errors.New("task has incomplete dependencies")
	ErrUnknownDependency     = errors.New("dependency refers to an unknown task")
	ErrIterationLimitReached = errors.New("iteration limit reached")
)

// StatusEntry is one append-only record of a status change.
type StatusEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Note      string    `json:"note,omitempty"`
}

// Action is one requested tool invocation inside a plan.
type Action struct {
	ToolName string         `json:"tool_name"`
	Payload  map[string]any `json:"payload"`
}

// ResultStatus classifies the outcome of a single action.
type ResultStatus string

const (
	ResultSuccess    ResultStatus = "success"
	ResultError      ResultStatus = "error"
	ResultFatalError ResultStatus = "fatal_error"
)

// ActionResult is the outcome of one executed (or rejected) action.
type ActionResult struct {
	ToolName string         `json:"tool_name"`
	Status   ResultStatus   `json:"status"`
	Message  string         `json:"message,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// OK reports whether the action succeeded.
func (r ActionResult) OK() bool { return r.Status == ResultSuccess }

// Attempt records one plan/execute/reflect iteration that did not finish the task.
type Attempt struct {
	Reasoning string         `json:"reasoning"`
	Actions   []Action       `json:"actions"`
	Results   []ActionResult `json:"execution_results"`
	Critique  string         `json:"critique"`
}

// Task is a unit of delegated work.
type Task struct {
	ID             string        `json:"id"`
	Description    string        `json:"description"`
	AssigneeID     string        `json:"assignee_id"`
	DelegatorID    string        `json:"delegator_id"`
	ParentID       string        `json:"parent_id,omitempty"`
	Status         Status        `json:"status"`
	Dependencies   []string      `json:"dependencies,omitempty"`
	IterationCount int           `json:"iteration_count"`
	Attempts       []Attempt     `json:"attempt_history,omitempty"`
	History        []StatusEntry `json:"status_history"`
	OutputChannel  string        `json:"output_channel,omitempty"`
	Result         string        `json:"result,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`

	seq uint64
}

// Spec describes a task to create.
type Spec struct {
	Description   string
	AssigneeID    string
	DelegatorID   string // defaults to Owner
	ParentID      string
	OutputChannel string
	Dependencies  []string
}

// Filter controls which tasks are returned by List.
type Filter struct {
	Status     *Status
	AssigneeID string
	ParentID   string
}

func (f Filter) match(t *Task) bool {
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.AssigneeID != "" && t.AssigneeID != f.AssigneeID {
		return false
	}
	if f.ParentID != "" && t.ParentID != f.ParentID {
		return false
	}
	return true
}

// clone returns a copy that shares no mutable state with t.
func (t *Task) clone() Task {
	c := *t
	c.Dependencies = append([]string(nil), t.Dependencies...)
	c.History = append([]StatusEntry(nil), t.History...)
	c.Attempts = append([]Attempt(nil), t.Attempts...)
	return c
}

// HasDependency reports whether id is among the task's dependencies.
func (t Task) HasDependency(id string) bool {
	for _, d := range t.Dependencies {
		if d == id {
			return true
		}
	}
	return false
}

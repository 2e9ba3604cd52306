package task

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Observer is notified after every accepted status transition.
// It receives a snapshot of the task and the entry just appended.
type Observer func(t Task, entry StatusEntry)

// Graph is the registry of all tasks in one organization and the only
// place task status may change. All methods are safe for concurrent use;
// every transition is an atomic read-modify-write.
type Graph struct {
	mu        sync.RWMutex
	tasks     map[string]*Task
	seq       uint64
	observers []Observer
	logger    *slog.Logger
	now       func() time.Time
}

// NewGraph creates an empty task graph.
func NewGraph(logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{
		tasks:  make(map[string]*Task),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Observe registers fn to be called after each transition.
func (g *Graph) Observe(fn Observer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observers = append(g.observers, fn)
}

// Create registers a new task. The task starts BLOCKED when it has
// dependencies and PENDING otherwise.
func (g *Graph) Create(spec Spec) (Task, error) {
	if spec.DelegatorID == "" {
		spec.DelegatorID = Owner
	}

	g.mu.Lock()
	for _, dep := range spec.Dependencies {
		if _, ok := g.tasks[dep]; !ok {
			g.mu.Unlock()
			return Task{}, fmt.Errorf("%w: %s", ErrUnknownDependency, dep)
		}
	}
	if spec.ParentID != "" {
		if _, ok := g.tasks[spec.ParentID]; !ok {
			g.mu.Unlock()
			return Task{}, fmt.Errorf("parent %s: %w", spec.ParentID, ErrNotFound)
		}
	}

	now := g.now()
	g.seq++
	t := &Task{
		ID:            uuid.New().String(),
		Description:   spec.Description,
		AssigneeID:    spec.AssigneeID,
		DelegatorID:   spec.DelegatorID,
		ParentID:      spec.ParentID,
		Status:        StatusPending,
		Dependencies:  dedupe(spec.Dependencies),
		OutputChannel: spec.OutputChannel,
		CreatedAt:     now,
		UpdatedAt:     now,
		seq:           g.seq,
	}
	note := "task created"
	if len(t.Dependencies) > 0 {
		t.Status = StatusBlocked
		note = fmt.Sprintf("task created with %d dependencies", len(t.Dependencies))
	}
	entry := StatusEntry{Timestamp: now, Status: t.Status, Note: note}
	t.History = append(t.History, entry)
	g.tasks[t.ID] = t
	snap := t.clone()
	observers := g.observers
	g.mu.Unlock()

	g.logger.Debug("task created",
		slog.String("task_id", snap.ID),
		slog.String("assignee_id", snap.AssigneeID),
		slog.String("status", string(snap.Status)))
	notify(observers, snap, entry)
	return snap, nil
}

// Transition moves a task to a new status and appends to its history.
// Transitions out of COMPLETED or FAILED are rejected with ErrTerminal and
// logged; they never panic. A task with incomplete dependencies can only
// be BLOCKED, COMPLETED or FAILED.
func (g *Graph) Transition(id string, to Status, note string) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}

	g.mu.Lock()
	t, ok := g.tasks[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("transition %s: %w", id, ErrNotFound)
	}
	if t.Status.Terminal() {
		from := t.Status
		g.mu.Unlock()
		g.logger.Warn("transition rejected",
			slog.String("task_id", id),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
			slog.String("note", note))
		return fmt.Errorf("transition %s %s -> %s: %w", id, from, to, ErrTerminal)
	}
	if (to == StatusPending || to == StatusInProgress) && !g.satisfiedLocked(t) {
		g.mu.Unlock()
		return fmt.Errorf("transition %s -> %s: %w", id, to, ErrDependenciesPending)
	}

	from := t.Status
	entry := StatusEntry{Timestamp: g.now(), Status: to, Note: note}
	t.Status = to
	t.History = append(t.History, entry)
	t.UpdatedAt = entry.Timestamp
	snap := t.clone()
	observers := g.observers
	g.mu.Unlock()

	g.logger.Info("task transition",
		slog.String("task_id", id),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("note", note))
	notify(observers, snap, entry)
	return nil
}

// AddDependency makes task id wait on depID. Self-dependencies and edges
// that would close a cycle are rejected. The caller is responsible for
// transitioning the task to BLOCKED.
func (g *Graph) AddDependency(id, depID string) error {
	if id == depID {
		return fmt.Errorf("add dependency %s: %w", id, ErrSelfDependency)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("add dependency to %s: %w", id, ErrNotFound)
	}
	if _, ok := g.tasks[depID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDependency, depID)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("add dependency to %s: %w", id, ErrTerminal)
	}
	if t.HasDependency(depID) {
		return nil
	}
	if g.reachableLocked(depID, id) {
		return fmt.Errorf("add dependency %s -> %s: %w", id, depID, ErrCycle)
	}
	t.Dependencies = append(t.Dependencies, depID)
	t.UpdatedAt = g.now()
	return nil
}

// reachableLocked reports whether target is reachable from start by
// following dependency edges.
func (g *Graph) reachableLocked(start, target string) bool {
	seen := map[string]bool{}
	stack := []string{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if t, ok := g.tasks[cur]; ok {
			stack = append(stack, t.Dependencies...)
		}
	}
	return false
}

// BeginIteration increments the iteration count of a task, refusing once
// max iterations have already been spent.
func (g *Graph) BeginIteration(id string, max int) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok {
		return 0, fmt.Errorf("begin iteration %s: %w", id, ErrNotFound)
	}
	if t.Status.Terminal() {
		return t.IterationCount, fmt.Errorf("begin iteration %s: %w", id, ErrTerminal)
	}
	if t.IterationCount >= max {
		return t.IterationCount, ErrIterationLimitReached
	}
	t.IterationCount++
	t.UpdatedAt = g.now()
	return t.IterationCount, nil
}

// RecordAttempt appends an unfinished iteration to the task's attempt history.
func (g *Graph) RecordAttempt(id string, a Attempt) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("record attempt %s: %w", id, ErrNotFound)
	}
	t.Attempts = append(t.Attempts, a)
	t.UpdatedAt = g.now()
	return nil
}

// SetResult stores the final summary of a task.
func (g *Graph) SetResult(id, result string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("set result %s: %w", id, ErrNotFound)
	}
	t.Result = result
	t.UpdatedAt = g.now()
	return nil
}

// Get returns a snapshot of the task with the given id.
func (g *Graph) Get(id string) (Task, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return t.clone(), nil
}

// List returns snapshots of the tasks matching filter in creation order.
func (g *Graph) List(filter Filter) []Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		if filter.match(t) {
			out = append(out, t.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// DependencyState reports whether every dependency of the task is
// COMPLETED, and the first dependency found FAILED, if any.
func (g *Graph) DependencyState(id string) (satisfied bool, failedDep string, err error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tasks[id]
	if !ok {
		return false, "", fmt.Errorf("dependency state %s: %w", id, ErrNotFound)
	}
	for _, dep := range t.Dependencies {
		if d, ok := g.tasks[dep]; ok && d.Status == StatusFailed {
			return false, dep, nil
		}
	}
	return g.satisfiedLocked(t), "", nil
}

func (g *Graph) satisfiedLocked(t *Task) bool {
	for _, dep := range t.Dependencies {
		d, ok := g.tasks[dep]
		if !ok || d.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Counts returns the number of tasks in each status.
func (g *Graph) Counts() map[Status]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	counts := make(map[Status]int, 5)
	for _, t := range g.tasks {
		counts[t.Status]++
	}
	return counts
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.tasks)
}

func notify(observers []Observer, t Task, entry StatusEntry) {
	for _, fn := range observers {
		fn(t, entry)
	}
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

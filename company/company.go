// Package company wires one organization together: the agent roster, the
// task graph, the sandboxed workspace, the memory service, the message
// bus and the escalation chain. A Company lives for the whole process.
package company

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/guild/agent"
	"github.com/GoCodeAlone/guild/comms"
	"github.com/GoCodeAlone/guild/config"
	"github.com/GoCodeAlone/guild/escalation"
	"github.com/GoCodeAlone/guild/memory"
	"github.com/GoCodeAlone/guild/provider"
	"github.com/GoCodeAlone/guild/scheduler"
	"github.com/GoCodeAlone/guild/task"
	"github.com/GoCodeAlone/guild/tools"
	"github.com/GoCodeAlone/guild/workspace"
)

// SystemID is the sender of messages the organization emits itself.
const SystemID = "system"

var (
	ErrUnknownAgent    = errors.New("unknown agent")
	ErrDelegationLoop  = errors.New("delegation loop")
	ErrNotHuman        = errors.New("task is not assigned to a human agent")
	ErrUnknownQuestion = errors.New("unknown question")
)

// Options carries collaborators that override the ones built from config.
type Options struct {
	Provider provider.Provider
	// Operator answers questions that reach the top of the hierarchy.
	// Without one, questions stay open until AnswerQuestion is called.
	Operator escalation.Operator
	Bus      comms.Bus
	Logger   *slog.Logger
}

// Question is an escalation that reached the operator.
type Question struct {
	ID       string    `json:"id"`
	From     string    `json:"from"`
	Question string    `json:"question"`
	AskedAt  time.Time `json:"asked_at"`
}

// Snapshot summarizes the organization for status displays.
type Snapshot struct {
	Name          string              `json:"name"`
	Agents        int                 `json:"agents"`
	Tasks         int                 `json:"tasks"`
	Counts        map[task.Status]int `json:"counts"`
	OpenQuestions int                 `json:"open_questions"`
}

// Company is the organization context.
type Company struct {
	cfg      *config.Config
	roster   *config.Roster
	agents   map[string]*agent.Agent
	graph    *task.Graph
	ws       *workspace.Store
	mem      *memory.Store
	journal  *task.Journal
	bus      comms.Bus
	router   *tools.Router
	provider provider.Provider
	chain    *escalation.Chain
	operator escalation.Operator
	logger   *slog.Logger

	mu        sync.Mutex
	questions []Question
}

// New builds a Company from cfg. The caller must Close it.
func New(cfg *config.Config, opts Options) (*Company, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	roster, err := config.NewRoster(cfg.Agents)
	if err != nil {
		return nil, err
	}

	c := &Company{
		cfg:      cfg,
		roster:   roster,
		agents:   make(map[string]*agent.Agent, roster.Len()),
		graph:    task.NewGraph(logger),
		bus:      opts.Bus,
		provider: opts.Provider,
		operator: opts.Operator,
		logger:   logger,
	}
	if c.bus == nil {
		c.bus = comms.NewInMemoryBus()
	}
	if c.provider == nil {
		if c.provider, err = NewProvider(cfg.Provider, logger); err != nil {
			return nil, err
		}
	}

	if c.ws, err = workspace.New(cfg.Company.Workspace); err != nil {
		return nil, err
	}
	if c.mem, err = openMemory(cfg.Company.MemoryDB); err != nil {
		return nil, err
	}
	if cfg.Company.JournalDB != "" {
		if err := ensureDir(cfg.Company.JournalDB); err != nil {
			c.mem.Close()
			return nil, err
		}
		if c.journal, err = task.OpenJournal(cfg.Company.JournalDB, logger); err != nil {
			c.mem.Close()
			return nil, err
		}
		c.graph.Observe(c.journal.Observer())
	}
	c.graph.Observe(c.publishUpdate)

	c.router = tools.NewRouter(tools.Builtin(), logger)
	c.chain = escalation.New(escalation.Config{
		Hierarchy: roster,
		Responder: c,
		Operator:  c,
		Memory:    c.mem,
		MaxHops:   cfg.Limits.MaxEscalationHops,
		Logger:    logger,
	})
	for _, profile := range roster.Agents() {
		c.agents[profile.ID] = agent.New(profile, c, logger)
	}

	logger.Info("company ready",
		slog.String("name", cfg.Company.Name),
		slog.Int("agents", roster.Len()),
		slog.String("workspace", c.ws.Root()),
		slog.String("provider", c.provider.Name()))
	return c, nil
}

func openMemory(path string) (*memory.Store, error) {
	if path == "" {
		path = ":memory:"
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	return memory.Open(path)
}

func ensureDir(dbPath string) error {
	if dbPath == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", dbPath, err)
	}
	return nil
}

// Close releases the memory and journal databases.
func (c *Company) Close() error {
	var errs []error
	if c.journal != nil {
		errs = append(errs, c.journal.Close())
	}
	errs = append(errs, c.mem.Close())
	return errors.Join(errs...)
}

func (c *Company) Name() string                { return c.cfg.Company.Name }
func (c *Company) Config() *config.Config      { return c.cfg }
func (c *Company) Roster() *config.Roster      { return c.roster }
func (c *Company) Graph() *task.Graph          { return c.graph }
func (c *Company) Provider() provider.Provider { return c.provider }
func (c *Company) Router() *tools.Router       { return c.router }
func (c *Company) Bus() comms.Bus              { return c.bus }
func (c *Company) Workspace() *workspace.Store { return c.ws }
func (c *Company) Memory() *memory.Store       { return c.mem }
func (c *Company) MaxIterations() int          { return c.cfg.Limits.MaxIterations }

// Env builds the handler environment for one plan.
func (c *Company) Env(t task.Task, a *agent.Agent) *tools.Env {
	return &tools.Env{
		Task:         t,
		AgentID:      a.ID(),
		Capabilities: a.Capabilities(),
		Workspace:    c.ws,
		Memory:       c.mem,
		Bus:          c.bus,
		Roster:       c.roster,
		Delegator:    c,
		Escalator:    c,
	}
}

// Agent returns the agent with the given id.
func (c *Company) Agent(id string) (*agent.Agent, bool) {
	a, ok := c.agents[id]
	return a, ok
}

// Worker resolves an assignee id for the scheduler.
func (c *Company) Worker(id string) (scheduler.Worker, bool) {
	a, ok := c.agents[id]
	if !ok {
		return nil, false
	}
	return a, true
}

// NewScheduler builds a scheduler over the company's task graph using the
// configured limits.
func (c *Company) NewScheduler() *scheduler.Scheduler {
	return scheduler.New(scheduler.Config{
		Graph:                  c.graph,
		Workforce:              c,
		MaxCycles:              c.cfg.Limits.MaxCycles,
		IdleInterval:           c.cfg.Limits.IdleInterval,
		FailOnFailedDependency: c.cfg.Limits.FailOnFailedDependency,
		Logger:                 c.logger,
	})
}

// Agents returns agent metadata in roster order.
func (c *Company) Agents() []agent.Info {
	out := make([]agent.Info, 0, len(c.agents))
	for _, profile := range c.roster.Agents() {
		out = append(out, c.agents[profile.ID].Info())
	}
	return out
}

// Submit creates a top-level task on behalf of the operator. An empty
// channel routes output to the configured default topic.
func (c *Company) Submit(assigneeID, description, channel string) (task.Task, error) {
	if _, ok := c.agents[assigneeID]; !ok {
		return task.Task{}, fmt.Errorf("submit: %w: %s", ErrUnknownAgent, assigneeID)
	}
	if channel == "" {
		channel = c.cfg.Company.OutputTopic
	}
	t, err := c.graph.Create(task.Spec{
		Description:   description,
		AssigneeID:    assigneeID,
		DelegatorID:   task.Owner,
		OutputChannel: channel,
	})
	if err != nil {
		return task.Task{}, err
	}
	c.logger.Info("task submitted", slog.String("task_id", t.ID), slog.String("agent_id", assigneeID))
	return t, nil
}

// Task returns a snapshot of one task.
func (c *Company) Task(id string) (task.Task, error) { return c.graph.Get(id) }

// Tasks lists tasks matching filter in creation order.
func (c *Company) Tasks(filter task.Filter) []task.Task { return c.graph.List(filter) }

// Events returns the journaled transitions of a task, or its in-memory
// status history when no journal is configured.
func (c *Company) Events(id string) ([]task.StatusEntry, error) {
	if c.journal != nil {
		return c.journal.Events(id)
	}
	t, err := c.graph.Get(id)
	if err != nil {
		return nil, err
	}
	return t.History, nil
}

// Status summarizes the organization.
func (c *Company) Status() Snapshot {
	c.mu.Lock()
	open := len(c.questions)
	c.mu.Unlock()
	return Snapshot{
		Name:          c.cfg.Company.Name,
		Agents:        len(c.agents),
		Tasks:         c.graph.Len(),
		Counts:        c.graph.Counts(),
		OpenQuestions: open,
	}
}

// Resolve finishes a task assigned to a human agent on the operator's
// word. Human tasks are never dispatched to the cognition loop.
func (c *Company) Resolve(id string, completed bool, note string) (task.Task, error) {
	t, err := c.graph.Get(id)
	if err != nil {
		return task.Task{}, err
	}
	if !c.roster.Human(t.AssigneeID) {
		return t, fmt.Errorf("resolve %s: %w", id, ErrNotHuman)
	}
	to := task.StatusFailed
	if completed {
		to = task.StatusCompleted
		if err := c.graph.SetResult(id, note); err != nil {
			return t, err
		}
	}
	if err := c.graph.Transition(id, to, "resolved by operator: "+note); err != nil {
		return t, err
	}
	return c.graph.Get(id)
}

func (c *Company) publishUpdate(t task.Task, e task.StatusEntry) {
	err := c.bus.Publish(context.Background(), &comms.Message{
		Type:    comms.TypeTaskUpdate,
		Channel: t.OutputChannel,
		From:    SystemID,
		TaskID:  t.ID,
		Subject: string(e.Status),
		Content: fmt.Sprintf("task %s is now %s: %s", t.ID, e.Status, e.Note),
		Metadata: map[string]string{
			"status":      string(e.Status),
			"assignee_id": t.AssigneeID,
		},
		Timestamp: e.Timestamp,
	})
	if err != nil {
		c.logger.Warn("task update not delivered", slog.String("task_id", t.ID), slog.String("error", err.Error()))
	}
}

// newQuestionID returns a short id for an operator question.
func newQuestionID() string { return "q-" + uuid.New().String()[:8] }

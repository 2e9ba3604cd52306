package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GoCodeAlone/guild/comms"
	"github.com/GoCodeAlone/guild/config"
	"github.com/GoCodeAlone/guild/provider"
	"github.com/GoCodeAlone/guild/provider/mock"
	"github.com/GoCodeAlone/guild/task"
	"github.com/GoCodeAlone/guild/tools"
	"github.com/GoCodeAlone/guild/workspace"
)

type testWorkplace struct {
	graph    *task.Graph
	provider provider.Provider
	router   *tools.Router
	bus      *comms.InMemoryBus
	ws       *workspace.Store
	max      int
}

func (w *testWorkplace) Graph() *task.Graph          { return w.graph }
func (w *testWorkplace) Provider() provider.Provider { return w.provider }
func (w *testWorkplace) Router() *tools.Router       { return w.router }
func (w *testWorkplace) Bus() comms.Bus              { return w.bus }
func (w *testWorkplace) MaxIterations() int          { return w.max }

func (w *testWorkplace) Env(t task.Task, a *Agent) *tools.Env {
	return &tools.Env{
		Task:         t,
		AgentID:      a.ID(),
		Capabilities: a.Capabilities(),
		Workspace:    w.ws,
		Bus:          w.bus,
		Delegator:    graphDelegator{w.graph},
	}
}

// graphDelegator creates the child task and blocks the parent on it.
type graphDelegator struct{ g *task.Graph }

func (d graphDelegator) Delegate(_ context.Context, req tools.DelegateRequest) (task.Task, error) {
	child, err := d.g.Create(task.Spec{Description: req.Description, AssigneeID: req.AssigneeID, DelegatorID: req.DelegatorID, ParentID: req.ParentTaskID})
	if err != nil {
		return task.Task{}, err
	}
	if req.BlockSelf {
		if err := d.g.AddDependency(req.ParentTaskID, child.ID); err != nil {
			return task.Task{}, err
		}
		if err := d.g.Transition(req.ParentTaskID, task.StatusBlocked, "waiting on "+child.ID); err != nil {
			return task.Task{}, err
		}
	}
	return child, nil
}

func newTestAgent(t *testing.T, p provider.Provider) (*Agent, *testWorkplace) {
	t.Helper()
	ws, err := workspace.New(filepath.Join(t.TempDir(), "ws"))
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	w := &testWorkplace{
		graph:    task.NewGraph(nil),
		provider: p,
		router:   tools.NewRouter(tools.Builtin(), nil),
		bus:      comms.NewInMemoryBus(),
		ws:       ws,
		max:      3,
	}
	a := New(config.AgentConfig{ID: "dev", Role: "Software Engineer", Directive: "Write clean code."}, w, nil)
	return a, w
}

func submit(t *testing.T, w *testWorkplace, desc string) task.Task {
	t.Helper()
	tk, err := w.graph.Create(task.Spec{Description: desc, AssigneeID: "dev", OutputChannel: "ui"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return tk
}

const (
	writePlan  = `{"reasoning": "write the readme", "actions": [{"tool_name": "WRITE_FILE", "payload": {"path": "README.md", "content": "# Demo"}}]}`
	doneReview = `{"critique": "README exists with a title.", "is_complete": true, "summary": "README written"}`
)

func TestProcess_Completes(t *testing.T) {
	p := mock.Script(mock.Step{Text: writePlan}, mock.Step{Text: "```json\n" + doneReview + "\n```"})
	a, w := newTestAgent(t, p)
	var results []*comms.Message
	w.bus.Subscribe("ui", func(_ context.Context, m *comms.Message) error {
		if m.Type == comms.TypeResult {
			results = append(results, m)
		}
		return nil
	})
	tk := submit(t, w, "Write a README")

	got, err := a.Process(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got.Status != task.StatusCompleted || got.Result != "README written" || got.IterationCount != 1 {
		t.Errorf("task = %s result=%q iterations=%d", got.Status, got.Result, got.IterationCount)
	}
	content, found, err := w.ws.Read("README.md")
	if err != nil || !found || content != "# Demo" {
		t.Errorf("README = %q found=%v err=%v", content, found, err)
	}
	if len(results) != 1 || results[0].Content != "README written" {
		t.Errorf("result messages = %+v", results)
	}
	if a.Info().Status != StatusIdle {
		t.Errorf("agent status = %s, want idle", a.Info().Status)
	}

	prompts := p.Prompts()
	if !strings.Contains(prompts[0], "Write a README") || !strings.Contains(prompts[0], tools.ToolWriteFile) {
		t.Errorf("planning prompt missing task or manifest:\n%s", prompts[0])
	}
	if !strings.Contains(prompts[1], "is_complete MUST be false") {
		t.Errorf("reflection prompt missing honesty rule:\n%s", prompts[1])
	}
}

func TestProcess_ReflectionForcesRetry(t *testing.T) {
	p := mock.Script(
		mock.Step{Text: writePlan},
		mock.Step{Text: `{"critique": "missing file", "is_complete": false}`},
		mock.Step{Text: writePlan},
		mock.Step{Text: doneReview},
	)
	a, w := newTestAgent(t, p)
	tk := submit(t, w, "Write a README and a LICENSE")

	got, err := a.Process(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got.Status != task.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if len(got.Attempts) != 1 || got.Attempts[0].Critique != "missing file" {
		t.Fatalf("attempts = %+v", got.Attempts)
	}
	if len(got.Attempts[0].Results) != 1 || !got.Attempts[0].Results[0].OK() {
		t.Errorf("attempt results = %+v", got.Attempts[0].Results)
	}

	got, err = a.Process(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if got.Status != task.StatusCompleted || got.IterationCount != 2 {
		t.Errorf("status = %s iterations = %d", got.Status, got.IterationCount)
	}
	second := p.Prompts()[2]
	if !strings.Contains(second, "Attempt 1") || !strings.Contains(second, "- Critique: missing file") {
		t.Errorf("second planning prompt lacks history:\n%s", second)
	}
}

func TestProcess_IterationLimit(t *testing.T) {
	incomplete := `{"critique": "not yet", "is_complete": false}`
	p := mock.New(writePlan, incomplete)
	a, w := newTestAgent(t, p)
	w.max = 2
	tk := submit(t, w, "Never finishes")

	var got task.Task
	for i := 0; i < 5; i++ {
		var err error
		got, err = a.Process(context.Background(), tk.ID)
		if got.Status.Terminal() {
			break
		}
		if err != nil {
			t.Fatalf("Process %d: %v", i, err)
		}
	}
	if got.Status != task.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.IterationCount != 2 || len(got.Attempts) != 2 {
		t.Errorf("iterations = %d attempts = %d, want 2", got.IterationCount, len(got.Attempts))
	}
	if p.Calls() != 4 {
		t.Errorf("provider calls = %d, want 4", p.Calls())
	}
}

func TestProcess_Failures(t *testing.T) {
	tests := []struct {
		name  string
		steps []mock.Step
		note  string
	}{
		{"unparseable plan", []mock.Step{{Text: "I think we should write some code."}}, "could not parse plan"},
		{"plan without actions", []mock.Step{{Text: `{"reasoning": "hmm"}`}}, "could not parse plan"},
		{"action without tool", []mock.Step{{Text: `{"reasoning": "x", "actions": [{"payload": {}}]}`}}, "could not parse plan"},
		{"planning provider error", []mock.Step{mock.Fail(errors.New("overloaded"))}, "during planning"},
		{"unparseable reflection", []mock.Step{{Text: writePlan}, {Text: `{"critique": "fine"}`}}, "could not parse reflection"},
		{"reflection provider error", []mock.Step{{Text: writePlan}, mock.Fail(nil)}, "during reflection"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, w := newTestAgent(t, mock.Script(tt.steps...))
			tk := submit(t, w, "do something")

			got, err := a.Process(context.Background(), tk.ID)
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if got.Status != task.StatusFailed {
				t.Fatalf("status = %s, want failed", got.Status)
			}
			last := got.History[len(got.History)-1]
			if !strings.Contains(last.Note, tt.note) {
				t.Errorf("note = %q, want it to contain %q", last.Note, tt.note)
			}
		})
	}
}

func TestProcess_DelegationBlocks(t *testing.T) {
	plan := `{"reasoning": "hand off", "actions": [
		{"tool_name": "DELEGATE_TASK", "payload": {"assignee_id": "qa", "description": "test it", "block_self": true}},
		{"tool_name": "DELEGATE_TASK", "payload": {"assignee_id": "ops", "description": "deploy it", "block_self": true}}
	]}`
	p := mock.Script(mock.Step{Text: plan})
	a, w := newTestAgent(t, p)
	tk := submit(t, w, "Ship the release")

	got, err := a.Process(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got.Status != task.StatusBlocked {
		t.Fatalf("status = %s, want blocked", got.Status)
	}
	if len(got.Dependencies) != 2 {
		t.Errorf("dependencies = %v, want 2", got.Dependencies)
	}
	if p.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1 (no reflection when blocked)", p.Calls())
	}
}

func TestProcess_NotRunnable(t *testing.T) {
	a, w := newTestAgent(t, mock.New())
	tk := submit(t, w, "x")
	if err := w.graph.Transition(tk.ID, task.StatusFailed, "cancelled"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Process(context.Background(), tk.ID); !errors.Is(err, ErrNotRunnable) {
		t.Errorf("err = %v, want ErrNotRunnable", err)
	}

	other, _ := w.graph.Create(task.Spec{Description: "y", AssigneeID: "someone-else"})
	if _, err := a.Process(context.Background(), other.ID); !errors.Is(err, ErrNotRunnable) {
		t.Errorf("err = %v, want ErrNotRunnable", err)
	}
}

func TestParsePlan(t *testing.T) {
	plan, err := ParsePlan("Sure! Here is my plan:\n" + writePlan + "\nLet me know.")
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if plan.Reasoning != "write the readme" || len(plan.Actions) != 1 || plan.Actions[0].ToolName != tools.ToolWriteFile {
		t.Errorf("plan = %+v", plan)
	}

	plan, err = ParsePlan(`{"reasoning": "nothing to do", "actions": [{"tool_name": "LIST_FILES"}]}`)
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if plan.Actions[0].Payload == nil {
		t.Error("missing payload should decode as an empty map")
	}

	for _, bad := range []string{"", "{", "[]", `{"actions": "WRITE_FILE"}`} {
		if _, err := ParsePlan(bad); !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("ParsePlan(%q) err = %v", bad, err)
		}
	}
}

// systemProvider records the system text apart from each prompt.
type systemProvider struct {
	*mock.MockProvider
	systems []string
}

func (p *systemProvider) GenerateWithSystem(ctx context.Context, system, prompt string) (string, error) {
	p.systems = append(p.systems, system)
	return p.Generate(ctx, prompt)
}

func TestProcess_PersonaTravelsAsSystem(t *testing.T) {
	p := &systemProvider{MockProvider: mock.Script(mock.Step{Text: writePlan}, mock.Step{Text: doneReview})}
	a, w := newTestAgent(t, p)
	tk := submit(t, w, "Write a README")

	if _, err := a.Process(context.Background(), tk.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(p.systems) != 2 {
		t.Fatalf("system calls = %d, want 2", len(p.systems))
	}
	for i, sys := range p.systems {
		if !strings.Contains(sys, "Software Engineer") || !strings.Contains(sys, "Write clean code.") {
			t.Errorf("system %d = %q", i, sys)
		}
	}
	for i, prompt := range p.Prompts() {
		if strings.Contains(prompt, "Software Engineer") {
			t.Errorf("prompt %d repeats the persona:\n%s", i, prompt)
		}
		if !strings.HasPrefix(prompt, "## Task\n") {
			t.Errorf("prompt %d does not start with the task:\n%s", i, prompt)
		}
	}

	// The script is spent, so Respond errors; only the routing is checked.
	_, _ = a.Respond(context.Background(), "Which database?")
	if len(p.systems) != 3 || !strings.Contains(p.systems[2], "Software Engineer") {
		t.Errorf("Respond systems = %q", p.systems)
	}
}

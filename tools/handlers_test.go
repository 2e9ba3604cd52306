package tools

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GoCodeAlone/guild/comms"
	"github.com/GoCodeAlone/guild/config"
	"github.com/GoCodeAlone/guild/escalation"
	"github.com/GoCodeAlone/guild/memory"
	"github.com/GoCodeAlone/guild/task"
	"github.com/GoCodeAlone/guild/workspace"
)

func run(t *testing.T, env *Env, actions ...task.Action) []task.ActionResult {
	t.Helper()
	return NewRouter(Builtin(), nil).Execute(context.Background(), env, actions)
}

func act(tool string, kv ...any) task.Action {
	p := map[string]any{}
	for i := 0; i+1 < len(kv); i += 2 {
		p[kv[i].(string)] = kv[i+1]
	}
	return task.Action{ToolName: tool, Payload: p}
}

func fileEnv(t *testing.T) *Env {
	t.Helper()
	ws, err := workspace.New(filepath.Join(t.TempDir(), "ws"))
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	return &Env{Task: task.Task{ID: "t-1"}, AgentID: "dev", Workspace: ws}
}

func TestFileTools(t *testing.T) {
	env := fileEnv(t)
	results := run(t, env,
		act(ToolCreateFile, "path", "notes/empty.txt"),
		act(ToolWriteFile, "filepath", "notes/plan.md", "content", "step 1"),
		act(ToolWriteFile, "path", "notes/plan.md", "content", "\nstep 2", "append", true),
		act(ToolReadFile, "path", "notes/plan.md"),
		act(ToolListFiles, "path", "notes"),
	)
	if len(results) != 5 {
		t.Fatalf("results = %d, want 5", len(results))
	}
	for i, r := range results {
		if !r.OK() {
			t.Errorf("results[%d] = %+v", i, r)
		}
	}
	if got := results[3].Data["content"]; got != "step 1\nstep 2" {
		t.Errorf("read content = %q", got)
	}
	entries, _ := results[4].Data["entries"].([]string)
	if strings.Join(entries, ",") != "empty.txt,plan.md" {
		t.Errorf("entries = %v", entries)
	}
}

func TestFileTools_InputErrors(t *testing.T) {
	env := fileEnv(t)
	results := run(t, env,
		act(ToolReadFile, "path", "missing.txt"),
		act(ToolWriteFile, "path", "../../etc/passwd", "content", "pwned"),
		act(ToolWriteFile, "path", "x.txt"),
		act(ToolReadFile),
	)
	if len(results) != 4 {
		t.Fatalf("results = %d, want 4 (input errors must not halt)", len(results))
	}
	for i, r := range results {
		if r.Status != task.ResultError {
			t.Errorf("results[%d] = %+v, want error", i, r)
		}
	}
	if !strings.Contains(results[1].Message, "permission denied") {
		t.Errorf("traversal message = %q", results[1].Message)
	}
}

func TestMemoryTools(t *testing.T) {
	mem, err := memory.Open(":memory:")
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	defer mem.Close()
	env := &Env{Task: task.Task{ID: "t-9"}, AgentID: "cto", Memory: mem}

	results := run(t, env,
		act(ToolMemorize, "text", "Deploys happen on Tuesdays", "category", "process"),
		act(ToolRecall, "query", "when do deploys happen"),
		act(ToolRecall),
	)
	if !results[0].OK() || !results[1].OK() {
		t.Fatalf("results = %+v", results)
	}
	docs, _ := results[1].Data["memories"].([]string)
	if len(docs) != 1 || docs[0] != "Deploys happen on Tuesdays" {
		t.Errorf("recalled = %v", docs)
	}
	if results[2].Status != task.ResultError {
		t.Errorf("recall without query = %+v", results[2])
	}

	got, _ := mem.Recall(context.Background(), "deploys", 1)
	if got[0].Metadata["agent_id"] != "cto" || got[0].Metadata["task_id"] != "t-9" || got[0].Metadata["category"] != "process" {
		t.Errorf("metadata = %v", got[0].Metadata)
	}
}

type fakeDelegator struct {
	reqs []DelegateRequest
	err  error
}

func (d *fakeDelegator) Delegate(_ context.Context, req DelegateRequest) (task.Task, error) {
	if d.err != nil {
		return task.Task{}, d.err
	}
	d.reqs = append(d.reqs, req)
	return task.Task{ID: "child-1", AssigneeID: req.AssigneeID}, nil
}

func TestDelegateTool(t *testing.T) {
	d := &fakeDelegator{}
	env := &Env{Task: task.Task{ID: "parent"}, AgentID: "cto", Delegator: d}

	results := run(t, env,
		act(ToolDelegate, "assignee_id", "dev", "description", "build it", "block_self", true),
		act(ToolDelegate, "assignee_id", "dev"),
	)
	if !results[0].OK() || results[0].Data["task_id"] != "child-1" {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].Status != task.ResultError {
		t.Errorf("results[1] = %+v", results[1])
	}
	if len(d.reqs) != 1 {
		t.Fatalf("requests = %d", len(d.reqs))
	}
	want := DelegateRequest{DelegatorID: "cto", ParentTaskID: "parent", AssigneeID: "dev", Description: "build it", BlockSelf: true}
	if d.reqs[0] != want {
		t.Errorf("request = %+v, want %+v", d.reqs[0], want)
	}

	d.err = errors.New("unknown agent: ghost")
	results = run(t, env, act(ToolDelegate, "assignee_id", "ghost", "description", "x"))
	if results[0].Status != task.ResultError || !strings.Contains(results[0].Message, "ghost") {
		t.Errorf("rejected delegation = %+v", results[0])
	}
}

type fakeEscalator struct {
	out escalation.Outcome
	err error
}

func (e fakeEscalator) Escalate(context.Context, string, string) (escalation.Outcome, error) {
	return e.out, e.err
}

func TestEscalateTool(t *testing.T) {
	tests := []struct {
		name string
		esc  fakeEscalator
		want task.ResultStatus
	}{
		{"answered", fakeEscalator{out: escalation.Outcome{Kind: escalation.KindAnswered, Answer: "yes", AnsweredBy: "ceo"}}, task.ResultSuccess},
		{"operator", fakeEscalator{out: escalation.Outcome{Kind: escalation.KindOperator}}, task.ResultSuccess},
		{"halted", fakeEscalator{out: escalation.Outcome{Kind: escalation.KindHalted, Hops: 15}}, task.ResultError},
		{"fault", fakeEscalator{err: errors.New("provider down")}, task.ResultFatalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &Env{Task: task.Task{ID: "t"}, AgentID: "dev", Escalator: tt.esc}
			res := run(t, env, act(ToolEscalate, "question", "which cloud?"))[0]
			if res.Status != tt.want {
				t.Errorf("status = %s, want %s (%+v)", res.Status, tt.want, res)
			}
		})
	}
}

func TestSendMessageTool(t *testing.T) {
	roster, err := config.NewRoster([]config.AgentConfig{{ID: "cto"}, {ID: "dev", Parent: "cto"}})
	if err != nil {
		t.Fatal(err)
	}
	bus := comms.NewInMemoryBus()
	var toCTO, onChannel []*comms.Message
	bus.Subscribe("cto", func(_ context.Context, m *comms.Message) error { toCTO = append(toCTO, m); return nil })
	bus.Subscribe("ui", func(_ context.Context, m *comms.Message) error { onChannel = append(onChannel, m); return nil })

	env := &Env{Task: task.Task{ID: "t", OutputChannel: "ui"}, AgentID: "dev", Bus: bus, Roster: roster}
	results := NewRouter(Builtin(), nil).Execute(context.Background(), env, []task.Action{
		act(ToolSendMessage, "message", "done with the API"),
		act(ToolSendMessage, "message", "review please", "to", "cto"),
		act(ToolSendMessage, "message", "hi", "to", "ghost"),
	})

	if !results[0].OK() || !results[1].OK() || results[2].Status != task.ResultError {
		t.Fatalf("results = %+v", results)
	}
	if len(toCTO) != 1 || toCTO[0].Metadata["direction"] != string(config.DirectionUpward) {
		t.Errorf("direct messages = %+v", toCTO)
	}
	// The channel sees the result message plus one progress note per action.
	var resultMsgs int
	for _, m := range onChannel {
		if m.Type == comms.TypeResult {
			resultMsgs++
		}
	}
	if resultMsgs != 1 {
		t.Errorf("result messages on channel = %d, want 1", resultMsgs)
	}
}

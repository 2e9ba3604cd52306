package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/GoCodeAlone/guild/comms"
	"github.com/GoCodeAlone/guild/company"
	"github.com/GoCodeAlone/guild/internal/version"
	"github.com/GoCodeAlone/guild/scheduler"
	"github.com/GoCodeAlone/guild/task"
)

// errQuit ends the console session.
var errQuit = errors.New("quit")

// idWidth fits a task id in full so it can be pasted into status and resolve.
const idWidth = 36

// command is one parsed console line.
type command struct {
	name   string
	target string // agent, task or question ID
	text   string // task description, question, note or answer
	done   bool   // resolve outcome
}

// parseCommand parses a console line. Commands that carry free text use a
// colon to separate it from the target, e.g. "delegate to cto: ship v1".
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, nil
	}
	word, rest, _ := strings.Cut(line, " ")
	word = strings.ToLower(word)
	rest = strings.TrimSpace(rest)

	switch word {
	case "help", "agents", "tasks", "questions", "run", "version":
		return command{name: word}, nil
	case "exit", "quit":
		return command{name: "exit"}, nil
	case "status":
		if rest == "" {
			return command{name: "status"}, nil
		}
		return command{name: "status", target: rest}, nil
	case "delegate":
		rest = strings.TrimSpace(strings.TrimPrefix(rest, "to "))
		target, text, err := splitColon(rest)
		if err != nil {
			return command{}, fmt.Errorf("usage: delegate to <agent>: <task>")
		}
		return command{name: "delegate", target: target, text: text}, nil
	case "ask":
		target, text, err := splitColon(rest)
		if err != nil {
			return command{}, fmt.Errorf("usage: ask <agent>: <question>")
		}
		return command{name: "ask", target: target, text: text}, nil
	case "answer":
		target, text, err := splitColon(rest)
		if err != nil {
			return command{}, fmt.Errorf("usage: answer <question-id>: <answer>")
		}
		return command{name: "answer", target: target, text: text}, nil
	case "resolve":
		head, note, _ := strings.Cut(rest, ":")
		fields := strings.Fields(head)
		if len(fields) != 2 {
			return command{}, fmt.Errorf("usage: resolve <task-id> done|fail: <note>")
		}
		cmd := command{name: "resolve", target: fields[0], text: strings.TrimSpace(note)}
		switch strings.ToLower(fields[1]) {
		case "done", "complete", "completed":
			cmd.done = true
		case "fail", "failed":
		default:
			return command{}, fmt.Errorf("resolve outcome must be done or fail, got %q", fields[1])
		}
		return cmd, nil
	default:
		return command{}, fmt.Errorf("unknown command: %s (try help)", word)
	}
}

func splitColon(s string) (string, string, error) {
	target, text, ok := strings.Cut(s, ":")
	target, text = strings.TrimSpace(target), strings.TrimSpace(text)
	if !ok || target == "" || text == "" || strings.Contains(target, " ") {
		return "", "", errors.New("missing target or text")
	}
	return target, text, nil
}

// console executes parsed commands against a local company.
type console struct {
	co    *company.Company
	sched *scheduler.Scheduler
	out   io.Writer
}

// execute runs cmd. It returns errQuit when the session should end.
func (c *console) execute(ctx context.Context, cmd command) error {
	switch cmd.name {
	case "":
		return nil
	case "exit":
		return errQuit
	case "help":
		fmt.Fprint(c.out, helpText)
	case "version":
		fmt.Fprintf(c.out, "guild %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildDate)
	case "agents":
		c.printAgents()
	case "tasks":
		c.printTasks(c.co.Tasks(task.Filter{}))
	case "questions":
		c.printQuestions()
	case "status":
		if cmd.target == "" {
			s := c.co.Status()
			fmt.Fprintf(c.out, "%s: %d agents, %d tasks, %d open questions\n", s.Name, s.Agents, s.Tasks, s.OpenQuestions)
			for _, st := range []task.Status{task.StatusPending, task.StatusInProgress, task.StatusBlocked, task.StatusCompleted, task.StatusFailed} {
				if n := s.Counts[st]; n > 0 {
					fmt.Fprintf(c.out, "  %-12s %d\n", st, n)
				}
			}
			return nil
		}
		t, err := c.co.Task(cmd.target)
		if err != nil {
			return err
		}
		c.printTask(t)
	case "delegate":
		t, err := c.co.Submit(cmd.target, cmd.text, "")
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "created %s for %s\n", t.ID, t.AssigneeID)
		return c.run(ctx)
	case "run":
		return c.run(ctx)
	case "ask":
		answer, err := c.co.Consult(ctx, cmd.target, cmd.text)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s: %s\n", cmd.target, answer)
	case "answer":
		if err := c.co.AnswerQuestion(ctx, cmd.target, cmd.text); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "answered %s\n", cmd.target)
		return c.run(ctx)
	case "resolve":
		t, err := c.co.Resolve(cmd.target, cmd.done, cmd.text)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s is now %s\n", t.ID, t.Status)
		return c.run(ctx)
	default:
		return fmt.Errorf("unknown command: %s", cmd.name)
	}
	return nil
}

func (c *console) run(ctx context.Context) error {
	rep, err := c.sched.Run(ctx)
	fmt.Fprintf(c.out, "scheduler: %s after %d cycles", rep.Reason, rep.Cycles)
	if len(rep.Unresolved) > 0 {
		fmt.Fprintf(c.out, ", %d unresolved", len(rep.Unresolved))
	}
	fmt.Fprintln(c.out)
	for _, t := range rep.Unresolved {
		fmt.Fprintf(c.out, "  %-*s %-12s %-12s %s\n", idWidth, t.ID, t.Status, t.AssigneeID, truncate(t.Description, 50))
	}
	return err
}

func (c *console) printAgents() {
	fmt.Fprintf(c.out, "%-12s %-28s %-10s %-6s %-8s\n", "ID", "ROLE", "PARENT", "TYPE", "STATUS")
	fmt.Fprintln(c.out, strings.Repeat("-", 68))
	for _, a := range c.co.Agents() {
		parent := a.Parent
		if parent == "" {
			parent = "-"
		}
		fmt.Fprintf(c.out, "%-12s %-28s %-10s %-6s %-8s\n", a.ID, truncate(a.Role, 28), parent, a.Type, a.Status)
	}
}

func (c *console) printTasks(tasks []task.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(c.out, "no tasks")
		return
	}
	fmt.Fprintf(c.out, "%-*s %-12s %-12s %-4s %s\n", idWidth, "ID", "STATUS", "ASSIGNEE", "ITER", "DESCRIPTION")
	fmt.Fprintln(c.out, strings.Repeat("-", idWidth+72))
	for _, t := range tasks {
		fmt.Fprintf(c.out, "%-*s %-12s %-12s %-4d %s\n", idWidth, t.ID, t.Status, t.AssigneeID, t.IterationCount, truncate(t.Description, 40))
	}
}

func (c *console) printTask(t task.Task) {
	fmt.Fprintf(c.out, "id:          %s\n", t.ID)
	fmt.Fprintf(c.out, "description: %s\n", t.Description)
	fmt.Fprintf(c.out, "assignee:    %s (from %s)\n", t.AssigneeID, t.DelegatorID)
	fmt.Fprintf(c.out, "status:      %s\n", t.Status)
	fmt.Fprintf(c.out, "iterations:  %d\n", t.IterationCount)
	if len(t.Dependencies) > 0 {
		fmt.Fprintf(c.out, "depends on:  %s\n", strings.Join(t.Dependencies, ", "))
	}
	if t.Result != "" {
		fmt.Fprintf(c.out, "result:      %s\n", t.Result)
	}
	for _, e := range t.History {
		fmt.Fprintf(c.out, "  %s  %-12s %s\n", e.Timestamp.Format("15:04:05"), e.Status, e.Note)
	}
}

func (c *console) printQuestions() {
	qs := c.co.Questions()
	if len(qs) == 0 {
		fmt.Fprintln(c.out, "no open questions")
		return
	}
	for _, q := range qs {
		fmt.Fprintf(c.out, "%s  from %-10s %s\n", q.ID, q.From, q.Question)
	}
}

// printMessage renders an observer-channel message as one console line.
func printMessage(w io.Writer, msg *comms.Message) {
	line := msg.Content
	if msg.Subject != "" {
		line = msg.Subject + ": " + line
	}
	if qid := msg.Metadata["question_id"]; qid != "" {
		line += fmt.Sprintf(" (answer with: answer %s: ...)", qid)
	}
	fmt.Fprintf(w, "[%s] %s %s\n", msg.Type, msg.From, truncate(line, 160))
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

const helpText = `Commands:
  delegate to <agent>: <task>        create a task and run the scheduler
  run                                run the scheduler until quiet
  status [task-id]                   company summary or one task
  tasks                              list tasks
  agents                             list agents
  ask <agent>: <question>            consult an agent directly
  questions                          list questions awaiting the operator
  answer <question-id>: <answer>     answer an escalated question
  resolve <task-id> done|fail: note  resolve a task assigned to a person
  version                            print version
  exit                               leave the console
`

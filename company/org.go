package company

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GoCodeAlone/guild/comms"
	"github.com/GoCodeAlone/guild/config"
	"github.com/GoCodeAlone/guild/escalation"
	"github.com/GoCodeAlone/guild/task"
	"github.com/GoCodeAlone/guild/tools"
)

// Delegate creates a child task for req.AssigneeID. With BlockSelf the
// parent gains a dependency on the child and moves to BLOCKED. A rejected
// delegation leaves the parent untouched; a child that was already created
// is failed.
func (c *Company) Delegate(ctx context.Context, req tools.DelegateRequest) (task.Task, error) {
	if _, ok := c.agents[req.AssigneeID]; !ok {
		return task.Task{}, fmt.Errorf("%w: %s", ErrUnknownAgent, req.AssigneeID)
	}
	parent, err := c.graph.Get(req.ParentTaskID)
	if err != nil {
		return task.Task{}, err
	}
	if parent.Status.Terminal() {
		return task.Task{}, fmt.Errorf("delegate from %s: %w", parent.ID, task.ErrTerminal)
	}
	if req.BlockSelf {
		if err := c.checkLoop(parent, req.AssigneeID); err != nil {
			return task.Task{}, err
		}
	}

	child, err := c.graph.Create(task.Spec{
		Description:   req.Description,
		AssigneeID:    req.AssigneeID,
		DelegatorID:   req.DelegatorID,
		ParentID:      parent.ID,
		OutputChannel: parent.OutputChannel,
	})
	if err != nil {
		return task.Task{}, err
	}
	if req.BlockSelf {
		if err := c.graph.AddDependency(parent.ID, child.ID); err != nil {
			_ = c.graph.Transition(child.ID, task.StatusFailed, "parent could not wait on it: "+err.Error())
			return task.Task{}, err
		}
		note := fmt.Sprintf("waiting on %s (%s)", child.ID, child.AssigneeID)
		if err := c.graph.Transition(parent.ID, task.StatusBlocked, note); err != nil {
			return task.Task{}, err
		}
	}

	c.logger.Info("task delegated",
		slog.String("task_id", child.ID),
		slog.String("parent_id", parent.ID),
		slog.String("from", req.DelegatorID),
		slog.String("to", req.AssigneeID),
		slog.Bool("block_self", req.BlockSelf))
	err = c.bus.Publish(ctx, &comms.Message{
		Type:     comms.TypeDirect,
		From:     req.DelegatorID,
		To:       req.AssigneeID,
		TaskID:   child.ID,
		Subject:  "New task",
		Content:  req.Description,
		Metadata: map[string]string{"direction": string(c.roster.Direction(req.DelegatorID, req.AssigneeID))},
	})
	if err != nil {
		c.logger.Warn("delegation notice not delivered", slog.String("task_id", child.ID), slog.String("error", err.Error()))
	}
	return child, nil
}

// checkLoop rejects a blocking delegation to an agent that already owns a
// blocked ancestor of parent: that agent is waiting on this very chain.
func (c *Company) checkLoop(parent task.Task, assigneeID string) error {
	seen := map[string]bool{}
	for cur := parent; ; {
		if seen[cur.ID] {
			return nil
		}
		seen[cur.ID] = true
		if cur.ID != parent.ID && cur.AssigneeID == assigneeID && cur.Status == task.StatusBlocked {
			return fmt.Errorf("%w: %s is already waiting on task %s", ErrDelegationLoop, assigneeID, cur.ID)
		}
		if cur.ParentID == "" {
			return nil
		}
		next, err := c.graph.Get(cur.ParentID)
		if err != nil {
			return nil
		}
		cur = next
	}
}

// Escalate runs the escalation chain for a question asked by fromID.
func (c *Company) Escalate(ctx context.Context, fromID, question string) (escalation.Outcome, error) {
	c.notify(ctx, &comms.Message{
		Type:     comms.TypeEscalation,
		From:     fromID,
		To:       c.roster.Parent(fromID),
		Subject:  "Question",
		Content:  question,
		Metadata: map[string]string{"direction": string(config.DirectionUpward)},
	})
	out, err := c.chain.Escalate(ctx, fromID, question)
	if err != nil {
		return out, err
	}
	if out.Kind == escalation.KindHalted {
		c.notify(ctx, &comms.Message{
			Type:    comms.TypeEscalation,
			Channel: c.cfg.Company.OutputTopic,
			From:    SystemID,
			Subject: "Escalation halted",
			Content: fmt.Sprintf("%s after %d hops: %s", escalation.HaltedMessage, out.Hops, out.Question),
		})
	}
	return out, nil
}

// Respond answers an escalated question in the persona of agentID.
func (c *Company) Respond(ctx context.Context, agentID, prompt string) (string, error) {
	a, ok := c.agents[agentID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	return a.Respond(ctx, prompt)
}

// Ask surfaces a question to the operator. It returns the operator's
// answer when an Operator is configured and answers immediately;
// otherwise the question stays open and the answer is empty.
func (c *Company) Ask(ctx context.Context, fromID, question string) (string, error) {
	q := Question{ID: newQuestionID(), From: fromID, Question: question, AskedAt: time.Now().UTC()}
	c.notify(ctx, &comms.Message{
		Type:     comms.TypeEscalation,
		Channel:  c.cfg.Company.OutputTopic,
		From:     fromID,
		To:       escalation.OperatorID,
		Subject:  "Question for the operator",
		Content:  question,
		Metadata: map[string]string{"question_id": q.ID},
	})

	if c.operator != nil {
		answer, err := c.operator.Ask(ctx, fromID, question)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(answer) != "" {
			return answer, nil
		}
	}

	c.mu.Lock()
	c.questions = append(c.questions, q)
	c.mu.Unlock()
	c.logger.Info("question awaiting operator", slog.String("question_id", q.ID), slog.String("agent_id", fromID))
	return "", nil
}

// Questions returns the operator questions still awaiting an answer.
func (c *Company) Questions() []Question {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Question(nil), c.questions...)
}

// AnswerQuestion records the operator's answer to an open question as a
// durable fact and closes it.
func (c *Company) AnswerQuestion(ctx context.Context, id, answer string) error {
	c.mu.Lock()
	idx := -1
	for i, q := range c.questions {
		if q.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, id)
	}
	q := c.questions[idx]
	c.questions = append(c.questions[:idx], c.questions[idx+1:]...)
	c.mu.Unlock()

	fact := fmt.Sprintf("Q: %s\nA: %s", q.Question, answer)
	meta := map[string]string{"category": "escalation", "asked_by": q.From, "answered_by": escalation.OperatorID}
	if err := c.mem.Memorize(ctx, fact, meta); err != nil {
		return fmt.Errorf("memorize answer: %w", err)
	}
	c.notify(ctx, &comms.Message{
		Type:    comms.TypeDirect,
		From:    escalation.OperatorID,
		To:      q.From,
		Subject: "Answer",
		Content: answer,
	})
	return nil
}

// Consult asks one agent a direct question on the operator's behalf.
func (c *Company) Consult(ctx context.Context, agentID, question string) (string, error) {
	a, ok := c.agents[agentID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	if a.Human() {
		return "", fmt.Errorf("consult %s: agent is operated by a person", agentID)
	}
	return a.Respond(ctx, "The operator asks you directly:\n"+question)
}

func (c *Company) notify(ctx context.Context, msg *comms.Message) {
	if err := c.bus.Publish(ctx, msg); err != nil {
		c.logger.Warn("message not delivered",
			slog.String("type", string(msg.Type)),
			slog.String("from", msg.From),
			slog.String("error", err.Error()))
	}
}

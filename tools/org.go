package tools

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/guild/comms"
	"github.com/GoCodeAlone/guild/escalation"
	"github.com/GoCodeAlone/guild/task"
)

// Organization tool names.
const (
	ToolDelegate    = "DELEGATE_TASK"
	ToolEscalate    = "ESCALATE_QUESTION"
	ToolSendMessage = "SEND_MESSAGE"
)

// DelegateRequest asks for a child task on behalf of the task's assignee.
type DelegateRequest struct {
	DelegatorID  string
	ParentTaskID string
	AssigneeID   string
	Description  string
	BlockSelf    bool
}

// Delegator creates child tasks. Every error it returns is a rejected
// delegation: no task was created and the parent was not blocked.
type Delegator interface {
	Delegate(ctx context.Context, req DelegateRequest) (task.Task, error)
}

// Escalator runs an escalation chain for a question.
type Escalator interface {
	Escalate(ctx context.Context, fromID, question string) (escalation.Outcome, error)
}

// OrgTools returns the delegation, escalation and messaging tools.
func OrgTools() []Tool {
	return []Tool{
		{
			Name:        ToolDelegate,
			Description: "Create a task for another agent. With block_self your task waits until it completes.",
			Params:      `{"assignee_id": "agent id", "description": "what to do", "block_self": true}`,
			Handler:     delegateTask,
		},
		{
			Name:        ToolEscalate,
			Description: "Ask your superior a question you cannot answer yourself.",
			Params:      `{"question": "what you need to know"}`,
			Handler:     escalateQuestion,
		},
		{
			Name:        ToolSendMessage,
			Description: "Send a message to the operator, or to another agent when 'to' is set.",
			Params:      `{"message": "text", "to": "optional agent id"}`,
			Handler:     sendMessage,
		},
	}
}

func delegateTask(ctx context.Context, env *Env, payload map[string]any) (task.ActionResult, error) {
	assignee, ok := stringArg(payload, "assignee_id", "assignee")
	description, hasDesc := stringArg(payload, "description", "task")
	if !ok || !hasDesc {
		return errorResult(ToolDelegate, "payload must include 'assignee_id' and 'description'"), nil
	}
	if env.Delegator == nil {
		return errorResult(ToolDelegate, "delegation is not available"), nil
	}

	child, err := env.Delegator.Delegate(ctx, DelegateRequest{
		DelegatorID:  env.AgentID,
		ParentTaskID: env.Task.ID,
		AssigneeID:   assignee,
		Description:  description,
		BlockSelf:    boolArg(payload, "block_self"),
	})
	if err != nil {
		return errorResult(ToolDelegate, "delegation rejected: %v", err), nil
	}
	return success(
		fmt.Sprintf("task %s delegated to %s", child.ID, assignee),
		map[string]any{"task_id": child.ID, "assignee_id": assignee, "blocked": boolArg(payload, "block_self")},
	), nil
}

func escalateQuestion(ctx context.Context, env *Env, payload map[string]any) (task.ActionResult, error) {
	question, ok := stringArg(payload, "question")
	if !ok {
		return errorResult(ToolEscalate, "payload must include 'question'"), nil
	}
	if env.Escalator == nil {
		return errorResult(ToolEscalate, "escalation is not available"), nil
	}

	out, err := env.Escalator.Escalate(ctx, env.AgentID, question)
	if err != nil {
		return task.ActionResult{}, err
	}
	data := map[string]any{"kind": string(out.Kind), "hops": out.Hops, "question": out.Question}
	switch out.Kind {
	case escalation.KindHalted:
		return task.ActionResult{Status: task.ResultError, Message: escalation.HaltedMessage, Data: data}, nil
	case escalation.KindOperator:
		return success("question forwarded to the operator; no answer yet", data), nil
	default:
		data["answered_by"] = out.AnsweredBy
		data["answer"] = out.Answer
		return success(fmt.Sprintf("%s answered: %s", out.AnsweredBy, out.Answer), data), nil
	}
}

func sendMessage(ctx context.Context, env *Env, payload map[string]any) (task.ActionResult, error) {
	text, ok := stringArg(payload, "message", "content")
	if !ok {
		return errorResult(ToolSendMessage, "message must be a non-empty string"), nil
	}
	if env.Bus == nil {
		return errorResult(ToolSendMessage, "no message bus configured"), nil
	}

	msg := &comms.Message{
		Type:    comms.TypeResult,
		Channel: env.Task.OutputChannel,
		From:    env.AgentID,
		TaskID:  env.Task.ID,
		Content: text,
	}
	if to, ok := stringArg(payload, "to", "recipient"); ok {
		if env.Roster != nil {
			if _, known := env.Roster.Get(to); !known {
				return errorResult(ToolSendMessage, "unknown recipient %q", to), nil
			}
			msg.Metadata = map[string]string{"direction": string(env.Roster.Direction(env.AgentID, to))}
		}
		msg.Type = comms.TypeDirect
		msg.To = to
		msg.Channel = ""
	}
	if err := env.Bus.Publish(ctx, msg); err != nil {
		return task.ActionResult{}, fmt.Errorf("publish: %w", err)
	}
	return success("message sent", map[string]any{"message_sent": text}), nil
}

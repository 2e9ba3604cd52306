package tools

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/GoCodeAlone/guild/comms"
	"github.com/GoCodeAlone/guild/config"
	"github.com/GoCodeAlone/guild/memory"
	"github.com/GoCodeAlone/guild/task"
	"github.com/GoCodeAlone/guild/workspace"
)

// progressLimit bounds the result text carried by a progress notification.
const progressLimit = 200

// Env is everything a handler may touch while executing one action.
type Env struct {
	Task         task.Task // snapshot of the task whose plan is running
	AgentID      string
	Capabilities []string
	Workspace    *workspace.Store
	Memory       memory.Service
	Bus          comms.Bus
	Roster       *config.Roster
	Delegator    Delegator
	Escalator    Escalator
}

// Router executes plans against a Registry. It keeps no per-plan state.
type Router struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRouter creates a Router over registry.
func NewRouter(registry *Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{registry: registry, logger: logger}
}

// Registry returns the tool registry the router dispatches to.
func (r *Router) Registry() *Registry { return r.registry }

// Execute runs actions in order and returns one result per attempted
// action. Unknown or disallowed tools yield an error result and processing
// continues. A fatal_error result stops the plan: later actions never run.
func (r *Router) Execute(ctx context.Context, env *Env, actions []task.Action) []task.ActionResult {
	results := make([]task.ActionResult, 0, len(actions))
	for i, action := range actions {
		res := r.dispatch(ctx, env, action)
		results = append(results, res)
		r.publishProgress(ctx, env, res)

		if res.Status == task.ResultFatalError {
			r.logger.Warn("plan halted by fatal action",
				slog.String("task_id", env.Task.ID),
				slog.String("tool", action.ToolName),
				slog.Int("index", i),
				slog.Int("skipped", len(actions)-i-1),
				slog.String("message", res.Message))
			break
		}
	}
	return results
}

func (r *Router) dispatch(ctx context.Context, env *Env, action task.Action) (res task.ActionResult) {
	tool, ok := r.registry.Get(action.ToolName)
	if !ok {
		return errorResult(action.ToolName, "tool %q not found in registry", action.ToolName)
	}
	if !allowed(env.Capabilities, action.ToolName) {
		return errorResult(action.ToolName, "agent %s is not permitted to use %s", env.AgentID, action.ToolName)
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked",
				slog.String("task_id", env.Task.ID),
				slog.String("tool", action.ToolName),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())))
			res = task.ActionResult{
				ToolName: action.ToolName,
				Status:   task.ResultFatalError,
				Message:  fmt.Sprintf("tool %s crashed: %v", action.ToolName, p),
			}
		}
	}()

	payload := action.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	res, err := tool.Handler(ctx, env, payload)
	if err != nil {
		return task.ActionResult{
			ToolName: action.ToolName,
			Status:   task.ResultFatalError,
			Message:  fmt.Sprintf("tool %s failed: %v", action.ToolName, err),
		}
	}
	res.ToolName = action.ToolName
	if res.Status == "" {
		res.Status = task.ResultSuccess
	}
	return res
}

func (r *Router) publishProgress(ctx context.Context, env *Env, res task.ActionResult) {
	if env.Bus == nil {
		return
	}
	text := fmt.Sprintf("%s: %s", res.ToolName, res.Status)
	if res.Message != "" {
		text += " - " + truncate(res.Message, progressLimit)
	}
	msg := &comms.Message{
		Type:    comms.TypeProgress,
		Channel: env.Task.OutputChannel,
		From:    env.AgentID,
		TaskID:  env.Task.ID,
		Subject: res.ToolName,
		Content: text,
		Metadata: map[string]string{
			"tool":   res.ToolName,
			"status": string(res.Status),
		},
	}
	if err := env.Bus.Publish(ctx, msg); err != nil {
		r.logger.Debug("progress notification not delivered",
			slog.String("task_id", env.Task.ID),
			slog.String("error", err.Error()))
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func errorResult(tool, format string, args ...any) task.ActionResult {
	return task.ActionResult{ToolName: tool, Status: task.ResultError, Message: fmt.Sprintf(format, args...)}
}

func success(message string, data map[string]any) task.ActionResult {
	return task.ActionResult{Status: task.ResultSuccess, Message: message, Data: data}
}

// stringArg returns the first non-empty string payload value among keys.
func stringArg(payload map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := payload[k].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// boolArg accepts JSON booleans and the strings "true"/"false".
func boolArg(payload map[string]any, key string) bool {
	switch v := payload[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "True" || v == "yes"
	}
	return false
}

// intArg accepts JSON numbers and returns def when absent or invalid.
func intArg(payload map[string]any, key string, def int) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

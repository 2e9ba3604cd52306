package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/GoCodeAlone/guild/comms"
	"github.com/GoCodeAlone/guild/provider"
	"github.com/GoCodeAlone/guild/task"
)

// ErrNotRunnable is returned when Process is called on a task that is not
// PENDING or not assigned to the agent.
var ErrNotRunnable = errors.New("task is not runnable by this agent")

// Process runs one plan, execute and reflect iteration of the task. It
// returns the task as it stands afterwards: COMPLETED, FAILED, BLOCKED on a
// delegated child, or PENDING awaiting the next dispatch. Task-level
// failures are recorded on the task; the returned error is reserved for
// calls that could not run at all.
func (a *Agent) Process(ctx context.Context, taskID string) (task.Task, error) {
	graph := a.work.Graph()
	t, err := graph.Get(taskID)
	if err != nil {
		return task.Task{}, err
	}
	if t.AssigneeID != a.profile.ID || t.Status != task.StatusPending {
		return t, fmt.Errorf("process %s (assignee %s, status %s): %w", t.ID, t.AssigneeID, t.Status, ErrNotRunnable)
	}

	done := a.setWorking(t.ID)
	defer done()

	limit := a.work.MaxIterations()
	if limit <= 0 {
		limit = DefaultMaxIterations
	}
	iteration, err := graph.BeginIteration(t.ID, limit)
	if errors.Is(err, task.ErrIterationLimitReached) {
		return a.fail(t.ID, fmt.Sprintf("iteration limit of %d reached", limit))
	}
	if err != nil {
		return t, err
	}

	log := a.logger.With(slog.String("task_id", t.ID), slog.Int("iteration", iteration))
	if err := graph.Transition(t.ID, task.StatusInProgress, fmt.Sprintf("iteration %d started by %s", iteration, a.profile.ID)); err != nil {
		return t, err
	}
	if t, err = graph.Get(t.ID); err != nil {
		return t, err
	}

	persona := a.persona()
	manifest := a.work.Router().Registry().Manifest(a.profile.Capabilities)

	raw, err := provider.Complete(ctx, a.work.Provider(), persona, planningPrompt(t, manifest))
	if err != nil {
		log.Error("planning request failed", slog.String("error", err.Error()))
		return a.fail(t.ID, "reasoning provider failed during planning: "+err.Error())
	}
	plan, err := ParsePlan(raw)
	if err != nil {
		log.Warn("unparseable plan", slog.String("error", err.Error()))
		return a.fail(t.ID, "could not parse plan: "+err.Error())
	}
	log.Info("plan ready", slog.Int("actions", len(plan.Actions)))

	results := a.work.Router().Execute(ctx, a.work.Env(t, a), plan.Actions)

	if t, err = graph.Get(t.ID); err != nil {
		return t, err
	}
	if t.Status == task.StatusBlocked {
		log.Info("task blocked on delegated work", slog.Any("dependencies", t.Dependencies))
		return t, nil
	}
	if t.Status.Terminal() {
		return t, nil
	}

	raw, err = provider.Complete(ctx, a.work.Provider(), persona, reflectionPrompt(t, plan, results))
	if err != nil {
		log.Error("reflection request failed", slog.String("error", err.Error()))
		return a.fail(t.ID, "reasoning provider failed during reflection: "+err.Error())
	}
	review, err := ParseReflection(raw)
	if err != nil {
		log.Warn("unparseable reflection", slog.String("error", err.Error()))
		return a.fail(t.ID, "could not parse reflection: "+err.Error())
	}

	if review.IsComplete {
		result := review.Summary
		if result == "" {
			result = plan.Reasoning
		}
		if err := graph.SetResult(t.ID, result); err != nil {
			return t, err
		}
		if err := graph.Transition(t.ID, task.StatusCompleted, review.Critique); err != nil {
			return t, err
		}
		a.publish(ctx, t, result)
		log.Info("task completed")
		return graph.Get(t.ID)
	}

	if err := graph.RecordAttempt(t.ID, task.Attempt{
		Reasoning: plan.Reasoning,
		Actions:   plan.Actions,
		Results:   results,
		Critique:  review.Critique,
	}); err != nil {
		return t, err
	}
	if iteration >= limit {
		return a.fail(t.ID, fmt.Sprintf("incomplete after %d iterations: %s", iteration, review.Critique))
	}
	if err := graph.Transition(t.ID, task.StatusPending, "needs another iteration: "+review.Critique); err != nil {
		return t, err
	}
	log.Info("task incomplete, queued for another iteration")
	return graph.Get(t.ID)
}

func (a *Agent) fail(id, note string) (task.Task, error) {
	graph := a.work.Graph()
	if err := graph.Transition(id, task.StatusFailed, note); err != nil {
		return task.Task{}, err
	}
	return graph.Get(id)
}

func (a *Agent) publish(ctx context.Context, t task.Task, result string) {
	bus := a.work.Bus()
	if bus == nil {
		return
	}
	err := bus.Publish(ctx, &comms.Message{
		Type:    comms.TypeResult,
		Channel: t.OutputChannel,
		From:    a.profile.ID,
		TaskID:  t.ID,
		Subject: "Task completed",
		Content: result,
	})
	if err != nil {
		a.logger.Warn("result not published", slog.String("task_id", t.ID), slog.String("error", err.Error()))
	}
}

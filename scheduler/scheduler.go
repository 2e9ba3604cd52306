// Package scheduler drives the task graph cycle by cycle: it unblocks
// tasks whose dependencies are done and dispatches runnable tasks to
// their assignees, one at a time, until nothing is left to do.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GoCodeAlone/guild/task"
)

// Defaults applied when Config leaves a limit unset.
const (
	DefaultMaxCycles    = 10
	DefaultIdleInterval = 500 * time.Millisecond
)

// Worker runs one cognition-loop call for a task.
type Worker interface {
	Process(ctx context.Context, taskID string) (task.Task, error)
	Human() bool
}

// Workforce resolves assignee ids to workers.
type Workforce interface {
	Worker(id string) (Worker, bool)
}

// StopReason explains why Run returned.
type StopReason string

const (
	StopQuiescent  StopReason = "quiescent"   // every task is COMPLETED or FAILED
	StopCycleLimit StopReason = "cycle_limit" // the cycle cap was reached first
	StopCanceled   StopReason = "canceled"
)

// Config configures a Scheduler.
type Config struct {
	Graph                  *task.Graph
	Workforce              Workforce
	MaxCycles              int
	IdleInterval           time.Duration
	FailOnFailedDependency bool
	Logger                 *slog.Logger
}

// CycleReport describes what one cycle did.
type CycleReport struct {
	Cycle      int      `json:"cycle"`
	Unblocked  []string `json:"unblocked,omitempty"`
	Failed     []string `json:"failed,omitempty"` // failed by the scheduler itself
	Dispatched []string `json:"dispatched,omitempty"`
	Waiting    []string `json:"waiting,omitempty"` // pending on a human assignee
	Done       bool     `json:"done"`
}

// Report is the outcome of Run.
type Report struct {
	Cycles     int                 `json:"cycles"`
	Reason     StopReason          `json:"reason"`
	Counts     map[task.Status]int `json:"counts"`
	Unresolved []task.Task         `json:"unresolved,omitempty"`
}

// Scheduler is the single-flight control loop over one task graph. Only
// one cycle runs at any instant.
type Scheduler struct {
	graph        *task.Graph
	workforce    Workforce
	maxCycles    int
	idle         time.Duration
	failOnFailed bool
	logger       *slog.Logger

	mu     sync.Mutex
	cycles int
	wake   chan struct{}
}

// New creates a Scheduler. It observes the graph so that Serve wakes up
// whenever a task becomes PENDING, and whenever a task finishes, since a
// finished task may be the last dependency of a blocked one.
func New(cfg Config) *Scheduler {
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = DefaultMaxCycles
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Scheduler{
		graph:        cfg.Graph,
		workforce:    cfg.Workforce,
		maxCycles:    cfg.MaxCycles,
		idle:         cfg.IdleInterval,
		failOnFailed: cfg.FailOnFailedDependency,
		logger:       cfg.Logger,
		wake:         make(chan struct{}, 1),
	}
	s.graph.Observe(func(_ task.Task, e task.StatusEntry) {
		if e.Status == task.StatusPending || e.Status.Terminal() {
			s.Wake()
		}
	})
	return s
}

// Wake nudges Serve to start a run. It never blocks.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cycle runs one unblock pass and one dispatch pass.
func (s *Scheduler) Cycle(ctx context.Context) CycleReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycleLocked(ctx)
}

func (s *Scheduler) cycleLocked(ctx context.Context) CycleReport {
	s.cycles++
	rep := CycleReport{Cycle: s.cycles}
	s.unblock(&rep)
	s.dispatch(ctx, &rep)

	if len(rep.Dispatched) == 0 && len(rep.Waiting) == 0 {
		rep.Done = s.allTerminal()
	}
	s.logger.Debug("cycle finished",
		slog.Int("cycle", rep.Cycle),
		slog.Int("unblocked", len(rep.Unblocked)),
		slog.Int("dispatched", len(rep.Dispatched)),
		slog.Int("failed", len(rep.Failed)),
		slog.Bool("done", rep.Done))
	return rep
}

func (s *Scheduler) unblock(rep *CycleReport) {
	blocked := task.StatusBlocked
	for _, t := range s.graph.List(task.Filter{Status: &blocked}) {
		ok, failedDep, err := s.graph.DependencyState(t.ID)
		if err != nil {
			s.logger.Warn("dependency check failed", slog.String("task_id", t.ID), slog.String("error", err.Error()))
			continue
		}
		switch {
		case ok:
			if err := s.graph.Transition(t.ID, task.StatusPending, "dependencies completed"); err != nil {
				s.logger.Warn("unblock rejected", slog.String("task_id", t.ID), slog.String("error", err.Error()))
				continue
			}
			rep.Unblocked = append(rep.Unblocked, t.ID)
		case failedDep != "" && s.failOnFailed:
			note := fmt.Sprintf("dependency %s failed", failedDep)
			if err := s.graph.Transition(t.ID, task.StatusFailed, note); err != nil {
				s.logger.Warn("fail propagation rejected", slog.String("task_id", t.ID), slog.String("error", err.Error()))
				continue
			}
			rep.Failed = append(rep.Failed, t.ID)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, rep *CycleReport) {
	pending := task.StatusPending
	for _, t := range s.graph.List(task.Filter{Status: &pending}) {
		if ctx.Err() != nil {
			return
		}
		cur, err := s.graph.Get(t.ID)
		if err != nil || cur.Status != task.StatusPending {
			continue
		}

		w, ok := s.workforce.Worker(cur.AssigneeID)
		if !ok {
			note := fmt.Sprintf("assignee %q does not exist", cur.AssigneeID)
			if err := s.graph.Transition(cur.ID, task.StatusFailed, note); err == nil {
				rep.Failed = append(rep.Failed, cur.ID)
			}
			continue
		}
		if w.Human() {
			rep.Waiting = append(rep.Waiting, cur.ID)
			continue
		}

		rep.Dispatched = append(rep.Dispatched, cur.ID)
		after, err := w.Process(ctx, cur.ID)
		if err != nil {
			s.logger.Error("dispatch failed",
				slog.String("task_id", cur.ID),
				slog.String("agent_id", cur.AssigneeID),
				slog.String("error", err.Error()))
			continue
		}
		s.logger.Info("task dispatched",
			slog.String("task_id", cur.ID),
			slog.String("agent_id", cur.AssigneeID),
			slog.String("status", string(after.Status)))
	}
}

func (s *Scheduler) allTerminal() bool {
	for _, t := range s.graph.List(task.Filter{}) {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// Run cycles until every task is terminal, the cycle cap is reached or
// ctx is cancelled. Cycles that dispatch nothing are followed by an idle
// wait. The report lists whatever remains unresolved.
func (s *Scheduler) Run(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reason := StopCycleLimit
	cycles := 0
	var runErr error
loop:
	for cycles < s.maxCycles {
		if err := ctx.Err(); err != nil {
			reason, runErr = StopCanceled, err
			break
		}
		rep := s.cycleLocked(ctx)
		cycles++
		if rep.Done {
			reason = StopQuiescent
			break
		}
		if len(rep.Dispatched) > 0 || cycles == s.maxCycles {
			continue
		}
		select {
		case <-ctx.Done():
			reason, runErr = StopCanceled, ctx.Err()
			break loop
		case <-time.After(s.idle):
		}
	}

	report := s.report(cycles, reason)
	s.logger.Info("scheduler stopped",
		slog.String("reason", string(reason)),
		slog.Int("cycles", cycles),
		slog.Int("unresolved", len(report.Unresolved)))
	return report, runErr
}

func (s *Scheduler) report(cycles int, reason StopReason) Report {
	r := Report{Cycles: cycles, Reason: reason, Counts: s.graph.Counts()}
	for _, t := range s.graph.List(task.Filter{}) {
		if !t.Status.Terminal() {
			r.Unresolved = append(r.Unresolved, t)
		}
	}
	return r
}

// Serve runs the scheduler whenever there is work, until ctx is done.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.logger.Info("scheduler serving", slog.Int("max_cycles", s.maxCycles), slog.Duration("idle_interval", s.idle))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		}
		if _, err := s.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
	}
}

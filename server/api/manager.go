// Package api defines the REST API handlers and interfaces for the guild server.
package api

import (
	"context"

	"github.com/GoCodeAlone/guild/agent"
	"github.com/GoCodeAlone/guild/company"
	"github.com/GoCodeAlone/guild/task"
)

// Organization is the interface the API uses to reach the running company.
// Implemented by *company.Company.
type Organization interface {
	Agents() []agent.Info
	Submit(assigneeID, description, channel string) (task.Task, error)
	Task(id string) (task.Task, error)
	Tasks(filter task.Filter) []task.Task
	Events(id string) ([]task.StatusEntry, error)
	Resolve(id string, completed bool, note string) (task.Task, error)
	Questions() []company.Question
	AnswerQuestion(ctx context.Context, id, answer string) error
	Status() company.Snapshot
}

var _ Organization = (*company.Company)(nil)

// Package execution holds the lifecycle model of one scheduler run.
package execution

import (
	"time"

	"github.com/aristath/autopilot/internal/health"
	"github.com/aristath/autopilot/internal/scheduler"
)

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:  {StatusRunning, StatusCancelled},
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether s may move to next. Terminal states never
// move and pending is never re-entered.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Context is the record of one execution.
type Context struct {
	ID             string           `json:"id"`
	PlanID         string           `json:"planId"`
	Status         Status           `json:"status"`
	StartedAt      *time.Time       `json:"startedAt,omitempty"`
	CompletedAt    *time.Time       `json:"completedAt,omitempty"`
	TotalTasks     int              `json:"totalTasks"`
	CompletedTasks int              `json:"completedTasks"`
	FailedTasks    int              `json:"failedTasks"`
	Health         *health.Snapshot `json:"health,omitempty"`
}

// Clone returns a copy that shares no pointers with c.
func (c Context) Clone() Context {
	cp := c
	if c.StartedAt != nil {
		t := *c.StartedAt
		cp.StartedAt = &t
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		cp.CompletedAt = &t
	}
	if c.Health != nil {
		h := *c.Health
		cp.Health = &h
	}
	return cp
}

// Tally recomputes the task counters from a task list.
func (c *Context) Tally(tasks []scheduler.AgentTask) {
	c.TotalTasks = len(tasks)
	c.CompletedTasks = 0
	c.FailedTasks = 0
	for _, t := range tasks {
		switch t.Status {
		case scheduler.TaskCompleted:
			c.CompletedTasks++
		case scheduler.TaskFailed:
			c.FailedTasks++
		}
	}
}

package execution

import (
	"time"

	"github.com/aristath/autopilot/internal/scheduler"
)

// RoleMetrics counts the tasks of one role.
type RoleMetrics struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Metrics aggregates the task list of an execution.
type Metrics struct {
	ExecutionID     string                         `json:"executionId"`
	TotalTasks      int                            `json:"totalTasks"`
	Roles           map[scheduler.Role]RoleMetrics `json:"roles"`
	AvgTaskDuration time.Duration                  `json:"avgTaskDuration"`
	SuccessRate     float64                        `json:"successRate"`
	FailureRate     float64                        `json:"failureRate"`
	RetryRate       float64                        `json:"retryRate"`
	HealthScore     *float64                       `json:"healthScore,omitempty"`
}

// ComputeMetrics aggregates tasks. Rates are fractions of the whole task
// list; the retry rate counts tasks retried at least once. The average
// duration covers completed tasks with both timestamps.
func ComputeMetrics(executionID string, tasks []scheduler.AgentTask, healthScore *float64) Metrics {
	m := Metrics{
		ExecutionID: executionID,
		TotalTasks:  len(tasks),
		Roles:       make(map[scheduler.Role]RoleMetrics),
		HealthScore: healthScore,
	}

	var completed, failed, retried, timed int
	var total time.Duration
	for _, t := range tasks {
		rm := m.Roles[t.Role]
		rm.Total++
		switch t.Status {
		case scheduler.TaskCompleted:
			completed++
			rm.Completed++
			if d, ok := t.Duration(); ok {
				total += d
				timed++
			}
		case scheduler.TaskFailed:
			failed++
			rm.Failed++
		}
		if t.RetryCount > 0 {
			retried++
		}
		m.Roles[t.Role] = rm
	}

	if timed > 0 {
		m.AvgTaskDuration = total / time.Duration(timed)
	}
	if n := float64(len(tasks)); n > 0 {
		m.SuccessRate = float64(completed) / n
		m.FailureRate = float64(failed) / n
		m.RetryRate = float64(retried) / n
	}
	return m
}

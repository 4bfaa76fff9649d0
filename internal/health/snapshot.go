// Package health scores running executions from their task lists.
package health

import (
	"fmt"
	"math"
	"time"

	"github.com/aristath/autopilot/internal/scheduler"
)

// Scoring thresholds.
const (
	TargetCompletionRate = 0.80
	MaxErrorRate         = 0.20
	SlowTaskThreshold    = 30 * time.Second

	completionPenaltyWeight = 50
	errorPenaltyWeight      = 25
	durationPenaltyWeight   = 10
	maxDurationPenalty      = 15
)

// RoleStats is the per-role slice of a snapshot.
type RoleStats struct {
	Total       int           `json:"total"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	AvgDuration time.Duration `json:"avgDuration"`
}

// Snapshot is one health evaluation of an execution. Never mutated after creation.
type Snapshot struct {
	ExecutionID     string                       `json:"executionId"`
	Score           float64                      `json:"score"`
	Timestamp       time.Time                    `json:"timestamp"`
	Issues          []string                     `json:"issues"`
	CompletionRate  float64                      `json:"completionRate"`
	ErrorRate       float64                      `json:"errorRate"`
	AvgTaskDuration time.Duration                `json:"avgTaskDuration"`
	TotalTasks      int                          `json:"totalTasks"`
	CompletedTasks  int                          `json:"completedTasks"`
	FailedTasks     int                          `json:"failedTasks"`
	PendingTasks    int                          `json:"pendingTasks"`
	Roles           map[scheduler.Role]RoleStats `json:"roles"`

	// PredictedCompletion is now + AvgTaskDuration × PendingTasks. It is a
	// linear projection that ignores the dependency graph and parallelism;
	// nil until at least one task has completed.
	PredictedCompletion *time.Time `json:"predictedCompletion,omitempty"`
}

// Evaluate scores a task list at time now. It performs no I/O.
// An empty task list scores 100 with no issues.
func Evaluate(tasks []scheduler.AgentTask, now time.Time) Snapshot {
	s := Snapshot{
		Timestamp: now,
		Issues:    []string{},
		Roles:     make(map[scheduler.Role]RoleStats),
	}

	var totalDur time.Duration
	roleDur := make(map[scheduler.Role]time.Duration)

	for _, t := range tasks {
		s.TotalTasks++
		rs := s.Roles[t.Role]
		rs.Total++

		switch t.Status {
		case scheduler.TaskCompleted:
			s.CompletedTasks++
			rs.Completed++
			if d, ok := t.Duration(); ok {
				totalDur += d
				roleDur[t.Role] += d
			}
		case scheduler.TaskFailed:
			s.FailedTasks++
			rs.Failed++
		case scheduler.TaskSkipped:
		default:
			s.PendingTasks++
		}
		s.Roles[t.Role] = rs
	}

	for role, rs := range s.Roles {
		if rs.Completed > 0 {
			rs.AvgDuration = roleDur[role] / time.Duration(rs.Completed)
			s.Roles[role] = rs
		}
	}

	if s.TotalTasks == 0 {
		s.Score = 100
		return s
	}

	total := float64(s.TotalTasks)
	s.CompletionRate = float64(s.CompletedTasks) / total
	s.ErrorRate = float64(s.FailedTasks) / total
	if s.CompletedTasks > 0 {
		s.AvgTaskDuration = totalDur / time.Duration(s.CompletedTasks)
		eta := now.Add(s.AvgTaskDuration * time.Duration(s.PendingTasks))
		s.PredictedCompletion = &eta
	}

	score := 100.0
	if deficit := TargetCompletionRate - s.CompletionRate; deficit > 0 {
		score -= deficit * completionPenaltyWeight
		s.Issues = append(s.Issues, fmt.Sprintf("completion rate %.1f%% is below target %.0f%%",
			s.CompletionRate*100, TargetCompletionRate*100))
	}
	if excess := s.ErrorRate - MaxErrorRate; excess > 0 {
		score -= excess * errorPenaltyWeight
		s.Issues = append(s.Issues, fmt.Sprintf("error rate %.1f%% exceeds %.0f%%",
			s.ErrorRate*100, MaxErrorRate*100))
	}
	if s.AvgTaskDuration > SlowTaskThreshold {
		ratio := float64(s.AvgTaskDuration) / float64(SlowTaskThreshold)
		score -= math.Min(maxDurationPenalty, (ratio-1)*durationPenaltyWeight)
		s.Issues = append(s.Issues, fmt.Sprintf("average task duration %s exceeds %s",
			s.AvgTaskDuration.Round(time.Millisecond), SlowTaskThreshold))
	}
	if s.FailedTasks > 0 {
		s.Issues = append(s.Issues, fmt.Sprintf("%d task(s) failed", s.FailedTasks))
	}

	s.Score = math.Max(0, math.Min(100, score))
	return s
}

// Healthy reports whether the snapshot breached no threshold.
func (s Snapshot) Healthy() bool {
	return len(s.Issues) == 0
}

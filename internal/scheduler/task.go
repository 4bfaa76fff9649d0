package scheduler

import (
	"encoding/json"
	"time"
)

// Role is the executor category a task is assigned to. The set is closed.
type Role string

const (
	RoleAnalysis      Role = "analysis"
	RoleCommunication Role = "communication"
	RoleContent       Role = "content"
	RoleCoordination  Role = "coordination"
	RoleResearch      Role = "research"
	RoleScheduling    Role = "scheduling"
)

// Roles lists every role in canonical (lexical) order.
var Roles = []Role{
	RoleAnalysis,
	RoleCommunication,
	RoleContent,
	RoleCoordination,
	RoleResearch,
	RoleScheduling,
}

// Valid reports whether r belongs to the closed role set.
func (r Role) Valid() bool {
	switch r {
	case RoleAnalysis, RoleCommunication, RoleContent, RoleCoordination, RoleResearch, RoleScheduling:
		return true
	}
	return false
}

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"     // Waiting for dependencies
	TaskAssigned   TaskStatus = "assigned"    // Picked for dispatch
	TaskInProgress TaskStatus = "in_progress" // Executor is running
	TaskCompleted  TaskStatus = "completed"   // Finished successfully
	TaskFailed     TaskStatus = "failed"      // Retries exhausted
	TaskSkipped    TaskStatus = "skipped"     // Never ran (dependency failed or execution cancelled)
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskSkipped
}

// Priority orders ready tasks within a scheduling pass.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns a sortable weight, higher first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// AgentTask is the unit the scheduler executes. Created by the Builder and
// mutated only by the orchestrator that owns its execution.
type AgentTask struct {
	ID           string          `json:"id"`
	ExecutionID  string          `json:"executionId"`
	WorkItemID   string          `json:"workItemId"`
	Title        string          `json:"title"`
	Role         Role            `json:"role"`
	Status       TaskStatus      `json:"status"`
	Priority     Priority        `json:"priority"`
	Dependencies []string        `json:"dependencies"`
	Resources    []string        `json:"resources,omitempty"`
	RetryCount   int             `json:"retryCount"`
	MaxRetries   int             `json:"maxRetries"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	AssignedAt   *time.Time      `json:"assignedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// Duration returns completedAt - assignedAt when both are set.
func (t AgentTask) Duration() (time.Duration, bool) {
	if t.AssignedAt == nil || t.CompletedAt == nil {
		return 0, false
	}
	return t.CompletedAt.Sub(*t.AssignedAt), true
}

// Clone returns a deep copy so callers never share slices or timestamps.
func (t AgentTask) Clone() AgentTask {
	cp := t
	if t.Dependencies != nil {
		cp.Dependencies = append([]string(nil), t.Dependencies...)
	}
	if t.Resources != nil {
		cp.Resources = append([]string(nil), t.Resources...)
	}
	if t.Result != nil {
		cp.Result = append(json.RawMessage(nil), t.Result...)
	}
	if t.AssignedAt != nil {
		at := *t.AssignedAt
		cp.AssignedAt = &at
	}
	if t.CompletedAt != nil {
		ct := *t.CompletedAt
		cp.CompletedAt = &ct
	}
	return cp
}

// CloneTasks deep-copies a task slice.
func CloneTasks(tasks []AgentTask) []AgentTask {
	if tasks == nil {
		return nil
	}
	out := make([]AgentTask, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}

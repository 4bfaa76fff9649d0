package scheduler

import (
	"github.com/aristath/autopilot/internal/plan"
)

// DefaultMaxRetries is used when a Builder is created with a negative retry budget.
const DefaultMaxRetries = 3

// Builder expands work items into a dependency-annotated task set.
// It performs no I/O and holds no state between builds.
type Builder struct {
	maxRetries int
}

// NewBuilder creates a Builder whose tasks carry the given retry budget.
func NewBuilder(maxRetries int) *Builder {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Builder{maxRetries: maxRetries}
}

// TaskID returns the id of the task for a work item and role within an execution.
func TaskID(executionID, workItemID string, role Role) string {
	if executionID == "" {
		return workItemID + "/" + string(role)
	}
	return executionID + "/" + workItemID + "/" + string(role)
}

// Build turns work items into tasks and validates the resulting graph.
// Identical input always yields identical task shape. Build never fails;
// problems with the graph are reported through the returned Validation.
func (b *Builder) Build(executionID string, items []plan.WorkItem) ([]AgentTask, Validation) {
	tasks := make([]AgentTask, 0, len(items))
	firstIdx := make(map[string]int, len(items))
	lastID := make(map[string]string, len(items))

	// In-item chains: one task per role, each depending on the previous one
	for _, item := range items {
		roles := Classify(item.Text())
		prev := ""
		for i, role := range roles {
			t := AgentTask{
				ID:           TaskID(executionID, item.ID, role),
				ExecutionID:  executionID,
				WorkItemID:   item.ID,
				Title:        item.Title,
				Role:         role,
				Status:       TaskPending,
				Priority:     priorityFor(role, item.Risk),
				Dependencies: []string{},
				Resources:    append([]string(nil), item.Resources...),
				MaxRetries:   b.maxRetries,
			}
			if prev != "" {
				t.Dependencies = append(t.Dependencies, prev)
			}
			if i == 0 {
				firstIdx[item.ID] = len(tasks)
			}
			tasks = append(tasks, t)
			prev = t.ID
		}
		lastID[item.ID] = prev
	}

	// Cross-item edges: first task of an item waits on the last task of each declared dependency
	for _, item := range items {
		idx, ok := firstIdx[item.ID]
		if !ok {
			continue
		}
		first := &tasks[idx]
		for _, depItem := range item.Dependencies {
			depID, known := lastID[depItem]
			if !known {
				// Kept as a raw reference so validation reports it as dangling
				depID = depItem
			}
			if !contains(first.Dependencies, depID) {
				first.Dependencies = append(first.Dependencies, depID)
			}
		}
	}

	return tasks, Validate(tasks)
}

// priorityFor forces communication and scheduling to high priority and
// otherwise derives priority from the work item's risk.
func priorityFor(role Role, risk plan.RiskLevel) Priority {
	if role == RoleCommunication || role == RoleScheduling {
		return PriorityHigh
	}
	switch risk {
	case plan.RiskHigh:
		return PriorityHigh
	case plan.RiskLow:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package scheduler

import (
	"fmt"
	"strings"

	"github.com/gammazero/toposort"
)

// Validation is the structured outcome of graph validation.
type Validation struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues,omitempty"`
}

// Validate checks a task set for dangling dependency references and cycles.
// It never panics and never returns an error; every problem becomes an issue.
func Validate(tasks []AgentTask) Validation {
	index := indexTasks(tasks)
	var issues []string

	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := index[dep]; !ok {
				issues = append(issues, fmt.Sprintf("task %q depends on unknown task %q", t.ID, dep))
			}
		}
	}

	issues = append(issues, findCycles(tasks, index)...)

	return Validation{Valid: len(issues) == 0, Issues: issues}
}

// findCycles runs a DFS from every task in input order, keeping the current
// path as an explicit recursion stack. A dependency already on the stack
// closes a cycle, reported as its node sequence.
func findCycles(tasks []AgentTask, index map[string]int) []string {
	const (
		unvisited = iota
		onStack
		done
	)

	state := make(map[string]int, len(tasks))
	var stack []string
	var cycles []string
	seen := make(map[string]bool)

	var visit func(id string)
	visit = func(id string) {
		state[id] = onStack
		stack = append(stack, id)

		for _, dep := range tasks[index[id]].Dependencies {
			if _, ok := index[dep]; !ok {
				continue // dangling, reported separately
			}
			switch state[dep] {
			case unvisited:
				visit(dep)
			case onStack:
				start := 0
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == dep {
						start = i
						break
					}
				}
				path := append(append([]string(nil), stack[start:]...), dep)
				desc := "dependency cycle: " + strings.Join(path, " -> ")
				if !seen[desc] {
					seen[desc] = true
					cycles = append(cycles, desc)
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = done
	}

	for _, t := range tasks {
		if state[t.ID] == unvisited {
			visit(t.ID)
		}
	}
	return cycles
}

// TopologicalOrder returns task ids so that every task follows its
// dependencies (Kahn's algorithm). Returns an error for cyclic or dangling graphs.
func TopologicalOrder(tasks []AgentTask) ([]string, error) {
	index := indexTasks(tasks)

	var edges []toposort.Edge
	for _, t := range tasks {
		if len(t.Dependencies) == 0 {
			// Edge from nil keeps dependency-free tasks in the result
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, dep := range t.Dependencies {
			if _, ok := index[dep]; !ok {
				return nil, fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
			edges = append(edges, toposort.Edge{dep, t.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("task graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(tasks))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(tasks) {
		return nil, fmt.Errorf("topological sort lost %d tasks", len(tasks)-len(order))
	}
	return order, nil
}

// Layers groups task ids into rounds: every task's dependencies lie in earlier
// layers. Order inside a layer follows input order. Tasks that cannot be
// placed (cycles, dangling references) are omitted.
func Layers(tasks []AgentTask) [][]string {
	index := indexTasks(tasks)
	placed := make(map[string]bool, len(tasks))
	var layers [][]string

	for len(placed) < len(tasks) {
		var layer []string
		for _, t := range tasks {
			if placed[t.ID] {
				continue
			}
			ready := true
			for _, dep := range t.Dependencies {
				if _, ok := index[dep]; !ok || !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, t.ID)
			}
		}
		if len(layer) == 0 {
			break
		}
		for _, id := range layer {
			placed[id] = true
		}
		layers = append(layers, layer)
	}
	return layers
}

// Ready returns pending tasks whose dependencies have all completed.
func Ready(tasks []AgentTask) []AgentTask {
	byID := make(map[string]AgentTask, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	var ready []AgentTask
	for _, t := range tasks {
		if t.Status != TaskPending {
			continue
		}
		allCompleted := true
		for _, dep := range t.Dependencies {
			if d, ok := byID[dep]; !ok || d.Status != TaskCompleted {
				allCompleted = false
				break
			}
		}
		if allCompleted {
			ready = append(ready, t)
		}
	}
	return ready
}

// Blocked returns pending tasks that can never run because a dependency
// ended failed or skipped, mapped to the offending dependency id.
func Blocked(tasks []AgentTask) map[string]string {
	byID := make(map[string]AgentTask, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	blocked := make(map[string]string)
	for _, t := range tasks {
		if t.Status != TaskPending {
			continue
		}
		for _, dep := range t.Dependencies {
			if d, ok := byID[dep]; ok && (d.Status == TaskFailed || d.Status == TaskSkipped) {
				blocked[t.ID] = dep
				break
			}
		}
	}
	return blocked
}

func indexTasks(tasks []AgentTask) map[string]int {
	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		index[t.ID] = i
	}
	return index
}

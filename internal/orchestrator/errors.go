package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyRunning is returned by Initialize when the plan already has a
	// registered execution.
	ErrAlreadyRunning = errors.New("plan already has an active execution")

	// ErrNotInitialized is returned for execution ids the engine has never
	// initialized (or has already forgotten).
	ErrNotInitialized = errors.New("execution not initialized")

	// ErrInvalidTransition is returned when an operation does not apply to
	// the execution's current status.
	ErrInvalidTransition = errors.New("invalid execution status transition")

	// ErrNotPersisted is returned by Wait when the execution's final status
	// could not be saved. The run stays registered in its last saved status.
	ErrNotPersisted = errors.New("final execution status not persisted")

	// ErrInvalidGraph is wrapped by every *InvalidGraphError.
	ErrInvalidGraph = errors.New("invalid task graph")
)

// InvalidGraphError reports why Start refused to dispatch a task graph.
type InvalidGraphError struct {
	ExecutionID string
	Issues      []string
}

func (e *InvalidGraphError) Error() string {
	return fmt.Sprintf("invalid task graph for execution %s: %s", e.ExecutionID, strings.Join(e.Issues, "; "))
}

// Unwrap lets callers match with errors.Is(err, ErrInvalidGraph).
func (e *InvalidGraphError) Unwrap() error {
	return ErrInvalidGraph
}

// Package executor defines the task executor contract and its stock
// implementations.
//
// Executors may be called more than once for the same task (retries and
// resumes), so they must be idempotent or tolerate repetition. The context
// passed to Execute is cancelled when the execution is paused or cancelled;
// executors should return promptly once it is done.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/autopilot/internal/scheduler"
)

// Result is the opaque output of a task, stored as JSON.
type Result = json.RawMessage

// Executor runs one task.
type Executor interface {
	Execute(ctx context.Context, task scheduler.AgentTask) (Result, error)
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, task scheduler.AgentTask) (Result, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, task scheduler.AgentTask) (Result, error) {
	return f(ctx, task)
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the scheduler skips any remaining retries.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Set routes each task to the executor registered for its role.
type Set struct {
	byRole map[scheduler.Role]Executor
}

// NewSet builds a Set. Every role must have an executor.
func NewSet(byRole map[scheduler.Role]Executor) (*Set, error) {
	s := &Set{byRole: make(map[scheduler.Role]Executor, len(scheduler.Roles))}
	var missing []scheduler.Role
	for _, role := range scheduler.Roles {
		e, ok := byRole[role]
		if !ok || e == nil {
			missing = append(missing, role)
			continue
		}
		s.byRole[role] = e
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("no executor for roles %v", missing)
	}
	return s, nil
}

// Uniform returns a Set that sends every role to e.
func Uniform(e Executor) *Set {
	s := &Set{byRole: make(map[scheduler.Role]Executor, len(scheduler.Roles))}
	for _, role := range scheduler.Roles {
		s.byRole[role] = e
	}
	return s
}

// Execute dispatches by task role.
func (s *Set) Execute(ctx context.Context, task scheduler.AgentTask) (Result, error) {
	e, ok := s.byRole[task.Role]
	if !ok {
		return nil, Permanent(fmt.Errorf("no executor for role %q", task.Role))
	}
	return e.Execute(ctx, task)
}

// Noop records the task without doing any work. Delay simulates work and
// honours cancellation.
type Noop struct {
	Delay time.Duration
}

// Execute returns a small summary of the task.
func (n Noop) Execute(ctx context.Context, task scheduler.AgentTask) (Result, error) {
	if n.Delay > 0 {
		timer := time.NewTimer(n.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return json.Marshal(map[string]string{
		"taskId":  task.ID,
		"role":    string(task.Role),
		"summary": fmt.Sprintf("%s task for %q recorded", task.Role, task.Title),
	})
}

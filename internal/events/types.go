package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/autopilot/internal/execution"
	"github.com/aristath/autopilot/internal/health"
	"github.com/aristath/autopilot/internal/scheduler"
)

// BridgeEventType names a state change. The set is closed.
type BridgeEventType string

const (
	ExecutionStarted BridgeEventType = "execution-started"
	TaskAssigned     BridgeEventType = "task-assigned"
	// TaskProgress also announces skipped tasks: Task.Status is skipped and
	// Message starts with "skipped: ".
	TaskProgress       BridgeEventType = "task-progress"
	TaskCompleted      BridgeEventType = "task-completed"
	TaskFailed         BridgeEventType = "task-failed"
	HealthUpdate       BridgeEventType = "health-update"
	MetricsUpdate      BridgeEventType = "metrics-update"
	ExecutionPaused    BridgeEventType = "execution-paused"
	ExecutionResumed   BridgeEventType = "execution-resumed"
	ExecutionCompleted BridgeEventType = "execution-completed"
	ExecutionCancelled BridgeEventType = "execution-cancelled"
	Error              BridgeEventType = "error"
)

// EventTypes lists every event type.
var EventTypes = []BridgeEventType{
	ExecutionStarted, TaskAssigned, TaskProgress, TaskCompleted, TaskFailed,
	HealthUpdate, MetricsUpdate, ExecutionPaused, ExecutionResumed,
	ExecutionCompleted, ExecutionCancelled, Error,
}

// Valid reports whether t is one of the known event types.
func (t BridgeEventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// UnmarshalJSON rejects unknown event types.
func (t *BridgeEventType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if !BridgeEventType(s).Valid() {
		return fmt.Errorf("unknown bridge event type %q", s)
	}
	*t = BridgeEventType(s)
	return nil
}

// State is a full or partial view of an execution. A nil field is absent:
// merging leaves the cached value alone. A non-nil field, including an
// empty task list, replaces it.
type State struct {
	Execution *execution.Context
	Tasks     []scheduler.AgentTask
	Health    *health.Snapshot
	Metrics   *execution.Metrics
}

type stateJSON struct {
	Execution *execution.Context     `json:"execution,omitempty"`
	Tasks     *[]scheduler.AgentTask `json:"tasks,omitempty"`
	Health    *health.Snapshot       `json:"health,omitempty"`
	Metrics   *execution.Metrics     `json:"metrics,omitempty"`
}

// MarshalJSON omits absent fields and keeps an empty task list as [].
func (s State) MarshalJSON() ([]byte, error) {
	out := stateJSON{Execution: s.Execution, Health: s.Health, Metrics: s.Metrics}
	if s.Tasks != nil {
		tasks := s.Tasks
		out.Tasks = &tasks
	}
	return json.Marshal(out)
}

// UnmarshalJSON distinguishes "tasks":[] (present, empty) from a missing key.
func (s *State) UnmarshalJSON(b []byte) error {
	var in stateJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*s = State{Execution: in.Execution, Health: in.Health, Metrics: in.Metrics}
	if in.Tasks != nil {
		s.Tasks = *in.Tasks
		if s.Tasks == nil {
			s.Tasks = []scheduler.AgentTask{}
		}
	}
	return nil
}

// Merge returns s with every present field of patch replacing its own.
// Applying the same patch twice gives the same result as applying it once.
func (s State) Merge(patch State) State {
	if patch.Execution != nil {
		s.Execution = patch.Execution
	}
	if patch.Tasks != nil {
		s.Tasks = patch.Tasks
	}
	if patch.Health != nil {
		s.Health = patch.Health
	}
	if patch.Metrics != nil {
		s.Metrics = patch.Metrics
	}
	return s
}

// Empty reports whether no field is present.
func (s State) Empty() bool {
	return s.Execution == nil && s.Tasks == nil && s.Health == nil && s.Metrics == nil
}

// Clone deep-copies every present field.
func (s State) Clone() State {
	var cp State
	if s.Execution != nil {
		c := s.Execution.Clone()
		cp.Execution = &c
	}
	if s.Tasks != nil {
		cp.Tasks = scheduler.CloneTasks(s.Tasks)
	}
	if s.Health != nil {
		h := *s.Health
		cp.Health = &h
	}
	if s.Metrics != nil {
		m := *s.Metrics
		cp.Metrics = &m
	}
	return cp
}

// BridgeEvent is one notification about an execution. On the wire it is
// {type, executionId, timestamp, data} with optional task and message.
type BridgeEvent struct {
	Type        BridgeEventType      `json:"type"`
	ExecutionID string               `json:"executionId"`
	Timestamp   time.Time            `json:"timestamp"`
	Data        State                `json:"data"`
	Task        *scheduler.AgentTask `json:"task,omitempty"`
	Message     string               `json:"message,omitempty"`
}

// New creates an event stamped with the current time.
func New(typ BridgeEventType, executionID string, data State) BridgeEvent {
	return BridgeEvent{Type: typ, ExecutionID: executionID, Timestamp: time.Now(), Data: data}
}

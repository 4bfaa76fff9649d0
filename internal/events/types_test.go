package events

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/aristath/autopilot/internal/execution"
	"github.com/aristath/autopilot/internal/health"
	"github.com/aristath/autopilot/internal/scheduler"
)

func TestStateJSONPresence(t *testing.T) {
	tests := []struct {
		name    string
		state   State
		want    string
		notWant []string
	}{
		{
			name:    "empty state",
			state:   State{},
			want:    `{}`,
			notWant: []string{"tasks", "health"},
		},
		{
			name:  "empty task list is present",
			state: State{Tasks: []scheduler.AgentTask{}},
			want:  `{"tasks":[]}`,
		},
		{
			name:    "health only",
			state:   State{Health: &health.Snapshot{Score: 90}},
			want:    `"health":{`,
			notWant: []string{"tasks", "execution", "metrics"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.state)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if !strings.Contains(string(b), tt.want) {
				t.Errorf("json %s does not contain %s", b, tt.want)
			}
			for _, key := range tt.notWant {
				if strings.Contains(string(b), `"`+key+`"`) {
					t.Errorf("json %s should not contain %q", b, key)
				}
			}
		})
	}
}

func TestStateUnmarshalPresence(t *testing.T) {
	var absent, empty State
	if err := json.Unmarshal([]byte(`{"health":{"score":70}}`), &absent); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`{"tasks":[]}`), &empty); err != nil {
		t.Fatal(err)
	}

	if absent.Tasks != nil || absent.Health == nil || absent.Health.Score != 70 {
		t.Errorf("absent tasks decoded as %+v", absent)
	}
	if empty.Tasks == nil || len(empty.Tasks) != 0 {
		t.Errorf("empty task list decoded as %#v", empty.Tasks)
	}
}

// TestMergePartialMessages applies a health-only then a metrics-only message.
func TestMergePartialMessages(t *testing.T) {
	exec := &execution.Context{ID: "e", Status: execution.StatusRunning}
	tasks := []scheduler.AgentTask{{ID: "t1", Status: scheduler.TaskPending}}
	cached := State{Execution: exec, Tasks: tasks}

	h := &health.Snapshot{Score: 85}
	m := &execution.Metrics{ExecutionID: "e", SuccessRate: 0.5}

	cached = cached.Merge(State{Health: h})
	cached = cached.Merge(State{Metrics: m})

	want := State{Execution: exec, Tasks: tasks, Health: h, Metrics: m}
	if diff := cmp.Diff(want, cached); diff != "" {
		t.Errorf("merged state mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeIdempotent(t *testing.T) {
	base := State{Execution: &execution.Context{ID: "e", Status: execution.StatusRunning}}
	patch := State{
		Tasks:   []scheduler.AgentTask{{ID: "t1", Status: scheduler.TaskCompleted}},
		Metrics: &execution.Metrics{TotalTasks: 1},
	}

	once := base.Merge(patch)
	twice := once.Merge(patch)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("merge not idempotent (-once +twice):\n%s", diff)
	}

	cleared := once.Merge(State{Tasks: []scheduler.AgentTask{}})
	if cleared.Tasks == nil || len(cleared.Tasks) != 0 {
		t.Errorf("present empty task list did not replace cached tasks: %#v", cleared.Tasks)
	}
}

func TestBridgeEventWireFormat(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := BridgeEvent{
		Type:        HealthUpdate,
		ExecutionID: "exec-1",
		Timestamp:   ts,
		Data:        State{Health: &health.Snapshot{Score: 40}},
	}

	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	for _, frag := range []string{`"type":"health-update"`, `"executionId":"exec-1"`, `"data":{"health":`} {
		if !strings.Contains(string(b), frag) {
			t.Errorf("wire json %s missing %s", b, frag)
		}
	}

	var back BridgeEvent
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back.Type != HealthUpdate || back.Data.Health.Score != 40 || back.Data.Tasks != nil {
		t.Errorf("decoded event = %+v", back)
	}
}

func TestUnknownEventTypeRejected(t *testing.T) {
	var ev BridgeEvent
	err := json.Unmarshal([]byte(`{"type":"task-exploded","executionId":"e"}`), &ev)
	if err == nil {
		t.Error("expected unknown event type to be rejected")
	}
}

package executor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aristath/autopilot/internal/backend"
	"github.com/aristath/autopilot/internal/scheduler"
)

func sampleTask(role scheduler.Role) scheduler.AgentTask {
	return scheduler.AgentTask{
		ID:         "exec/item/" + string(role),
		WorkItemID: "item",
		Title:      "Write the launch post",
		Role:       role,
		Priority:   scheduler.PriorityMedium,
		MaxRetries: 3,
	}
}

func TestNewSetRequiresEveryRole(t *testing.T) {
	partial := map[scheduler.Role]Executor{scheduler.RoleContent: Noop{}}
	if _, err := NewSet(partial); err == nil || !strings.Contains(err.Error(), "analysis") {
		t.Errorf("expected missing-role error, got %v", err)
	}

	full := make(map[scheduler.Role]Executor)
	for _, r := range scheduler.Roles {
		full[r] = Noop{}
	}
	if _, err := NewSet(full); err != nil {
		t.Errorf("NewSet(full) error = %v", err)
	}
}

func TestSetRoutesByRole(t *testing.T) {
	var got []scheduler.Role
	record := func(role scheduler.Role) Executor {
		return Func(func(ctx context.Context, task scheduler.AgentTask) (Result, error) {
			got = append(got, role)
			return nil, nil
		})
	}
	byRole := make(map[scheduler.Role]Executor)
	for _, r := range scheduler.Roles {
		byRole[r] = record(r)
	}
	set, err := NewSet(byRole)
	if err != nil {
		t.Fatal(err)
	}

	set.Execute(context.Background(), sampleTask(scheduler.RoleResearch))
	set.Execute(context.Background(), sampleTask(scheduler.RoleScheduling))
	if len(got) != 2 || got[0] != scheduler.RoleResearch || got[1] != scheduler.RoleScheduling {
		t.Errorf("routed to %v", got)
	}

	_, err = set.Execute(context.Background(), sampleTask("juggling"))
	if !IsPermanent(err) {
		t.Errorf("unknown role should be a permanent error, got %v", err)
	}
}

func TestNoop(t *testing.T) {
	res, err := Uniform(Noop{}).Execute(context.Background(), sampleTask(scheduler.RoleContent))
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]string
	if err := json.Unmarshal(res, &out); err != nil {
		t.Fatalf("noop result is not JSON: %s", res)
	}
	if out["role"] != "content" || out["taskId"] != "exec/item/content" {
		t.Errorf("noop result = %v", out)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (Noop{Delay: time.Hour}).Execute(ctx, sampleTask(scheduler.RoleContent)); !errors.Is(err, context.Canceled) {
		t.Errorf("delayed noop ignored cancellation: %v", err)
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("boom")
	err := Permanent(base)
	if !IsPermanent(err) || !errors.Is(err, base) {
		t.Errorf("Permanent wrapper broken: %v", err)
	}
	if IsPermanent(base) || Permanent(nil) != nil {
		t.Error("plain errors must not be permanent")
	}
}

func TestGuardOpensPerRole(t *testing.T) {
	var calls int
	failing := Func(func(ctx context.Context, task scheduler.AgentTask) (Result, error) {
		calls++
		if task.Role == scheduler.RoleContent {
			return nil, errors.New("backend down")
		}
		return Result(`{}`), nil
	})
	g := NewGuard(failing, BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := g.Execute(ctx, sampleTask(scheduler.RoleContent)); err == nil || IsPermanent(err) {
			t.Fatalf("attempt %d: expected ordinary failure, got %v", i, err)
		}
	}
	if g.State(scheduler.RoleContent) != gobreaker.StateOpen {
		t.Fatalf("breaker state = %s, want open", g.State(scheduler.RoleContent))
	}

	_, err := g.Execute(ctx, sampleTask(scheduler.RoleContent))
	if !IsPermanent(err) || !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("open breaker should yield permanent ErrOpenState, got %v", err)
	}
	if calls != 2 {
		t.Errorf("inner executor called %d times, want 2", calls)
	}

	if _, err := g.Execute(ctx, sampleTask(scheduler.RoleResearch)); err != nil {
		t.Errorf("other role affected by open breaker: %v", err)
	}
}

func TestGuardIgnoresCancellation(t *testing.T) {
	cancelled := Func(func(ctx context.Context, task scheduler.AgentTask) (Result, error) {
		return nil, context.Canceled
	})
	g := NewGuard(cancelled, BreakerConfig{ConsecutiveFailures: 1}, nil)
	for i := 0; i < 3; i++ {
		g.Execute(context.Background(), sampleTask(scheduler.RoleAnalysis))
	}
	if g.State(scheduler.RoleAnalysis) != gobreaker.StateClosed {
		t.Error("cancellations tripped the breaker")
	}
}

type memSessions struct {
	mu       sync.Mutex
	sessions map[string][2]string
	messages map[string][]string
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: map[string][2]string{}, messages: map[string][]string{}}
}

func (m *memSessions) SaveSession(ctx context.Context, taskID, sessionID, backendType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[taskID] = [2]string{sessionID, backendType}
	return nil
}

func (m *memSessions) GetSession(ctx context.Context, taskID string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[taskID]
	if !ok {
		return "", "", errors.New("not found")
	}
	return s[0], s[1], nil
}

func (m *memSessions) SaveMessage(ctx context.Context, taskID, role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[taskID] = append(m.messages[taskID], role)
	return nil
}

func TestBackendCommandRoundTrip(t *testing.T) {
	sessions := newMemSessions()
	exec := NewBackend(BackendConfig{
		Roles: map[scheduler.Role]backend.Config{
			scheduler.RoleContent: {Type: "command", Command: "cat"},
		},
		Processes: backend.NewProcessManager(),
		Sessions:  sessions,
	})

	task := sampleTask(scheduler.RoleContent)
	res, err := exec.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	// cat echoes the task JSON, which is valid JSON and kept as is
	var echoed scheduler.AgentTask
	if err := json.Unmarshal(res, &echoed); err != nil || echoed.ID != task.ID {
		t.Errorf("result = %s (%v)", res, err)
	}

	first, typ, err := sessions.GetSession(context.Background(), task.ID)
	if err != nil || typ != "command" || first == "" {
		t.Fatalf("session not recorded: %q %q %v", first, typ, err)
	}
	if got := sessions.messages[task.ID]; len(got) != 2 || got[0] != "user" || got[1] != "assistant" {
		t.Errorf("conversation log = %v", got)
	}

	// A retry resumes the recorded session
	if _, err := exec.Execute(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	again, _, _ := sessions.GetSession(context.Background(), task.ID)
	if again != first {
		t.Errorf("retry opened session %s, want resumed %s", again, first)
	}
}

func TestBackendPlainOutputWrapped(t *testing.T) {
	exec := NewBackend(BackendConfig{Roles: map[scheduler.Role]backend.Config{
		scheduler.RoleResearch: {Type: "command", Command: "sh", Args: []string{"-c", "cat >/dev/null; echo found three competitors"}},
	}})

	res, err := exec.Execute(context.Background(), sampleTask(scheduler.RoleResearch))
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]string
	if err := json.Unmarshal(res, &out); err != nil || out["output"] != "found three competitors" {
		t.Errorf("wrapped result = %s (%v)", res, err)
	}
}

func TestBackendMissingRoleIsPermanent(t *testing.T) {
	exec := NewBackend(BackendConfig{})
	if _, err := exec.Execute(context.Background(), sampleTask(scheduler.RoleAnalysis)); !IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
}

func TestPrompt(t *testing.T) {
	task := sampleTask(scheduler.RoleContent)
	task.RetryCount = 1
	task.Error = "timeout"

	text, err := Prompt("claude", task)
	if err != nil {
		t.Fatal(err)
	}
	for _, frag := range []string{"content agent", "Write the launch post", "retry 1 of 3", "timeout"} {
		if !strings.Contains(text, frag) {
			t.Errorf("prompt missing %q:\n%s", frag, text)
		}
	}

	raw, err := Prompt("command", task)
	if err != nil || !json.Valid([]byte(raw)) {
		t.Errorf("command prompt is not JSON: %s", raw)
	}
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aristath/autopilot/internal/executor"
	"github.com/aristath/autopilot/internal/scheduler"
)

// scriptedExecutor returns the scripted errors in order, then succeeds.
type scriptedExecutor struct {
	mu        sync.Mutex
	errs      []error
	callCount int
}

func (s *scriptedExecutor) Execute(ctx context.Context, task scheduler.AgentTask) (executor.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := s.callCount
	s.callCount++
	if call < len(s.errs) && s.errs[call] != nil {
		return nil, s.errs[call]
	}
	return executor.Result(fmt.Sprintf(`{"call":%d}`, call+1)), nil
}

func (s *scriptedExecutor) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func testRetry() RetryConfig {
	return RetryConfig{Enabled: true, MaxRetries: 2, BaseDelay: time.Millisecond}
}

func fixedTask(t scheduler.AgentTask) func() scheduler.AgentTask {
	return func() scheduler.AgentTask { return t }
}

func TestLinearBackOff(t *testing.T) {
	b := &linearBackOff{base: 10 * time.Millisecond}
	b.Reset()

	for i, want := range []time.Duration{10, 20, 30} {
		if got := b.NextBackOff(); got != want*time.Millisecond {
			t.Errorf("wait %d = %v, want %v", i+1, got, want*time.Millisecond)
		}
	}

	// A task resumed after one retry continues from the second wait
	resumed := &linearBackOff{base: 10 * time.Millisecond, start: 1}
	resumed.Reset()
	if got := resumed.NextBackOff(); got != 20*time.Millisecond {
		t.Errorf("resumed wait = %v, want 20ms", got)
	}
}

// TestExecuteWithRetry_TransientThenSuccess verifies transient failures are retried.
func TestExecuteWithRetry_TransientThenSuccess(t *testing.T) {
	exec := &scriptedExecutor{errs: []error{errors.New("flaky"), errors.New("flaky")}}

	var waits []time.Duration
	res, err := executeWithRetry(context.Background(), exec, fixedTask(scheduler.AgentTask{ID: "t"}), 2, testRetry(),
		func(err error, wait time.Duration) { waits = append(waits, wait) })
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if string(res) != `{"call":3}` {
		t.Errorf("result = %s, want third call's result", res)
	}
	if exec.CallCount() != 3 {
		t.Errorf("expected 3 calls, got %d", exec.CallCount())
	}
	if len(waits) != 2 || waits[0] != time.Millisecond || waits[1] != 2*time.Millisecond {
		t.Errorf("waits = %v, want [1ms 2ms]", waits)
	}
}

// TestExecuteWithRetry_Exhausted verifies the attempt count is retries + 1.
func TestExecuteWithRetry_Exhausted(t *testing.T) {
	boom := errors.New("boom")
	exec := &scriptedExecutor{errs: []error{boom, boom, boom, boom}}

	_, err := executeWithRetry(context.Background(), exec, fixedTask(scheduler.AgentTask{ID: "t"}), 2, testRetry(), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if exec.CallCount() != 3 {
		t.Errorf("expected 3 calls, got %d", exec.CallCount())
	}
}

// TestExecuteWithRetry_Permanent verifies permanent errors are not retried.
func TestExecuteWithRetry_Permanent(t *testing.T) {
	exec := &scriptedExecutor{errs: []error{executor.Permanent(errors.New("breaker open"))}}

	_, err := executeWithRetry(context.Background(), exec, fixedTask(scheduler.AgentTask{ID: "t"}), 2, testRetry(), nil)
	if !executor.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if exec.CallCount() != 1 {
		t.Errorf("expected 1 call, got %d", exec.CallCount())
	}
}

// TestExecuteWithRetry_Disabled verifies a disabled policy makes one attempt.
func TestExecuteWithRetry_Disabled(t *testing.T) {
	exec := &scriptedExecutor{errs: []error{errors.New("boom")}}
	cfg := testRetry()
	cfg.Enabled = false

	if _, err := executeWithRetry(context.Background(), exec, fixedTask(scheduler.AgentTask{ID: "t"}), 2, cfg, nil); err == nil {
		t.Fatal("expected error")
	}
	if exec.CallCount() != 1 {
		t.Errorf("expected 1 call, got %d", exec.CallCount())
	}
}

// TestExecuteWithRetry_ConsumedBudget verifies retries already spent are not granted again.
func TestExecuteWithRetry_ConsumedBudget(t *testing.T) {
	boom := errors.New("boom")
	exec := &scriptedExecutor{errs: []error{boom, boom, boom}}
	task := scheduler.AgentTask{ID: "t", RetryCount: 2, MaxRetries: 2}

	if _, err := executeWithRetry(context.Background(), exec, fixedTask(task), task.MaxRetries-task.RetryCount, testRetry(), nil); err == nil {
		t.Fatal("expected error")
	}
	if exec.CallCount() != 1 {
		t.Errorf("expected 1 call, got %d", exec.CallCount())
	}
}

// TestExecuteWithRetry_CancelledDuringBackoff verifies the wait is abandoned on cancellation.
func TestExecuteWithRetry_CancelledDuringBackoff(t *testing.T) {
	exec := &scriptedExecutor{errs: []error{errors.New("boom"), errors.New("boom")}}
	cfg := RetryConfig{Enabled: true, BaseDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	_, err := executeWithRetry(ctx, exec, fixedTask(scheduler.AgentTask{ID: "t"}), 2, cfg,
		func(error, time.Duration) { cancel() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("backoff wait was not interrupted")
	}
	if exec.CallCount() != 1 {
		t.Errorf("expected 1 call, got %d", exec.CallCount())
	}
}

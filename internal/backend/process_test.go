package backend

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// TestExecuteCommand_BasicExecution verifies basic command execution.
func TestExecuteCommand_BasicExecution(t *testing.T) {
	ctx := context.Background()
	stdout, stderr, err := executeCommand(ctx, newCommand(ctx, "echo", "hello"), nil, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(string(stdout), "hello") {
		t.Errorf("Expected stdout to contain 'hello', got: %s", stdout)
	}
	if len(stderr) > 0 {
		t.Errorf("Expected empty stderr, got: %s", stderr)
	}
}

// TestExecuteCommand_LargeOutput verifies that output beyond the pipe
// buffer does not deadlock.
func TestExecuteCommand_LargeOutput(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := newCommand(ctx, "sh", "-c", "head -c 262144 /dev/zero; head -c 131072 /dev/zero >&2")
	stdout, stderr, err := executeCommand(ctx, cmd, nil, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(stdout) != 262144 || len(stderr) != 131072 {
		t.Errorf("got %d stdout / %d stderr bytes", len(stdout), len(stderr))
	}
}

func TestExecuteCommand_Stdin(t *testing.T) {
	ctx := context.Background()
	stdout, _, err := executeCommand(ctx, newCommand(ctx, "cat"), nil, []byte("payload"))
	if err != nil || string(stdout) != "payload" {
		t.Errorf("cat = %q, %v", stdout, err)
	}
}

// TestExecuteCommand_ContextCancellation verifies that cancelling the
// context kills the subprocess group.
func TestExecuteCommand_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	pm := NewProcessManager()
	start := time.Now()
	_, _, err := executeCommand(ctx, newCommand(ctx, "sh", "-c", "sleep 5 & sleep 5; wait"), pm, nil)
	if err == nil {
		t.Fatal("expected error from cancelled command")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error in chain, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("cancellation took %v", elapsed)
	}
	if pm.Count() != 0 {
		t.Errorf("process still tracked: %d", pm.Count())
	}
}

func TestExecuteCommand_NonZeroExitCode(t *testing.T) {
	ctx := context.Background()
	_, _, err := executeCommand(ctx, newCommand(ctx, "sh", "-c", "echo broken >&2; exit 2"), nil, nil)
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("stderr missing from error: %v", err)
	}
}

// TestProcessManager_TrackAndKillAll verifies KillAll terminates tracked processes.
func TestProcessManager_TrackAndKillAll(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pm := NewProcessManager()
	errCh := make(chan error, 1)
	go func() {
		_, _, err := executeCommand(ctx, newCommand(ctx, "sleep", "30"), pm, nil)
		errCh <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for pm.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if pm.Count() != 1 {
		t.Fatalf("expected 1 tracked process, got %d", pm.Count())
	}

	if err := pm.KillAll(); err != nil {
		t.Fatalf("KillAll() error = %v", err)
	}
	select {
	case err := <-errCh:
		if err == nil {
			t.Error("killed process reported success")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process survived KillAll")
	}
}

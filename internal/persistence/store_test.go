package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/aristath/autopilot/internal/execution"
	"github.com/aristath/autopilot/internal/health"
	"github.com/aristath/autopilot/internal/plan"
	"github.com/aristath/autopilot/internal/scheduler"
)

// testStore creates an in-memory store for testing and registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func seedExecution(t *testing.T, store *SQLiteStore, id string) {
	t.Helper()
	err := store.SaveExecution(context.Background(), execution.Context{ID: id, PlanID: "plan-1", Status: execution.StatusPending})
	if err != nil {
		t.Fatalf("SaveExecution() error = %v", err)
	}
}

func builtTasks(t *testing.T, execID string) []scheduler.AgentTask {
	t.Helper()
	items := []plan.WorkItem{
		{ID: "a", Title: "Send email and schedule meeting", Resources: []string{"inbox"}},
		{ID: "b", Title: "Write summary", Dependencies: []string{"a"}},
	}
	tasks, v := scheduler.NewBuilder(2).Build(execID, items)
	if !v.Valid {
		t.Fatalf("invalid test graph: %v", v.Issues)
	}
	return tasks
}

func TestSaveAndGetExecution(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	started := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	want := execution.Context{
		ID:             "exec-1",
		PlanID:         "plan-1",
		Status:         execution.StatusRunning,
		StartedAt:      &started,
		TotalTasks:     3,
		CompletedTasks: 1,
		Health:         &health.Snapshot{ExecutionID: "exec-1", Score: 85, Issues: []string{"slow"}},
	}
	if err := store.SaveExecution(ctx, want); err != nil {
		t.Fatalf("SaveExecution() error = %v", err)
	}

	got, err := store.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("execution mismatch (-want +got):\n%s", diff)
	}

	// Upsert overwrites
	want.Status = execution.StatusCompleted
	if err := store.SaveExecution(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetExecution(ctx, "exec-1")
	if got.Status != execution.StatusCompleted {
		t.Errorf("status after upsert = %s", got.Status)
	}
}

func TestGetExecutionNotFound(t *testing.T) {
	store := testStore(t)
	_, err := store.GetExecution(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListExecutions(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"e1", "e2"} {
		seedExecution(t, store, id)
	}
	if err := store.SaveExecution(ctx, execution.Context{ID: "e3", PlanID: "plan-2", Status: execution.StatusPending}); err != nil {
		t.Fatal(err)
	}

	list, err := store.ListExecutions(ctx, "plan-1")
	if err != nil {
		t.Fatalf("ListExecutions() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "e1" || list[1].ID != "e2" {
		t.Errorf("ListExecutions = %+v", list)
	}

	empty, err := store.ListExecutions(ctx, "nope")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil list, got %v, %v", empty, err)
	}
}

func TestSaveTasksRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	seedExecution(t, store, "exec-1")

	tasks := builtTasks(t, "exec-1")
	if err := store.SaveTasks(ctx, tasks); err != nil {
		t.Fatalf("SaveTasks() error = %v", err)
	}

	got, err := store.Tasks(ctx, "exec-1")
	if err != nil {
		t.Fatalf("Tasks() error = %v", err)
	}
	if diff := cmp.Diff(tasks, got); diff != "" {
		t.Errorf("tasks mismatch (-want +got):\n%s", diff)
	}

	one, err := store.GetTask(ctx, tasks[2].ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if diff := cmp.Diff(tasks[2], one); diff != "" {
		t.Errorf("GetTask mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateTask(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	seedExecution(t, store, "exec-1")

	tasks := builtTasks(t, "exec-1")
	if err := store.SaveTasks(ctx, tasks); err != nil {
		t.Fatal(err)
	}

	assigned := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	completed := assigned.Add(5 * time.Second)
	updated := tasks[0]
	updated.Status = scheduler.TaskCompleted
	updated.RetryCount = 1
	updated.Result = json.RawMessage(`{"sent":true}`)
	updated.AssignedAt = &assigned
	updated.CompletedAt = &completed
	if err := store.UpdateTask(ctx, updated); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}

	got, err := store.GetTask(ctx, updated.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(updated, got); diff != "" {
		t.Errorf("updated task mismatch (-want +got):\n%s", diff)
	}

	missing := updated
	missing.ID = "ghost"
	if err := store.UpdateTask(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTasksRequireExecution(t *testing.T) {
	store := testStore(t)
	err := store.SaveTasks(context.Background(), builtTasks(t, "no-such-execution"))
	if err == nil {
		t.Error("expected foreign key violation for tasks without an execution")
	}
}

func TestDeleteExecutionCascades(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	seedExecution(t, store, "exec-1")
	if err := store.SaveTasks(ctx, builtTasks(t, "exec-1")); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteExecution(ctx, "exec-1"); err != nil {
		t.Fatalf("DeleteExecution() error = %v", err)
	}
	tasks, err := store.Tasks(ctx, "exec-1")
	if err != nil || len(tasks) != 0 {
		t.Errorf("tasks survived delete: %v, %v", tasks, err)
	}
	if err := store.DeleteExecution(ctx, "exec-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestHealthSnapshotsBoundedAndWindowed(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	seedExecution(t, store, "exec-1")
	store.SetSnapshotLimit(3)

	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		snap := health.Snapshot{ExecutionID: "exec-1", Score: float64(i), Timestamp: base.Add(time.Duration(i) * time.Minute)}
		if err := store.SaveHealthSnapshot(ctx, snap); err != nil {
			t.Fatalf("SaveHealthSnapshot() error = %v", err)
		}
	}

	all, err := store.HealthSnapshots(ctx, "exec-1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Score != 2 || all[2].Score != 4 {
		t.Errorf("bounded archive = %+v", all)
	}

	window, err := store.HealthSnapshots(ctx, "exec-1", base.Add(3*time.Minute), base.Add(3*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 1 || window[0].Score != 3 {
		t.Errorf("windowed query = %+v", window)
	}
}

func TestSessionsAndHistory(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	seedExecution(t, store, "exec-1")
	tasks := builtTasks(t, "exec-1")
	if err := store.SaveTasks(ctx, tasks); err != nil {
		t.Fatal(err)
	}
	taskID := tasks[0].ID

	if _, _, err := store.GetSession(ctx, taskID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound before save, got %v", err)
	}
	if err := store.SaveSession(ctx, taskID, "sess-1", "claude"); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveSession(ctx, taskID, "sess-2", "claude"); err != nil {
		t.Fatal(err)
	}
	sid, typ, err := store.GetSession(ctx, taskID)
	if err != nil || sid != "sess-2" || typ != "claude" {
		t.Errorf("GetSession = %q %q %v", sid, typ, err)
	}

	empty, err := store.GetHistory(ctx, taskID)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("expected empty history, got %v %v", empty, err)
	}
	for _, m := range [][2]string{{"user", "do it"}, {"assistant", "done"}} {
		if err := store.SaveMessage(ctx, taskID, m[0], m[1]); err != nil {
			t.Fatal(err)
		}
	}
	history, err := store.GetHistory(ctx, taskID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].Role != "user" || history[1].Content != "done" {
		t.Errorf("history = %+v", history)
	}
}

func TestFileStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "autopilot.db")

	store, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := store.SaveExecution(ctx, execution.Context{ID: "e", PlanID: "p", Status: execution.StatusPending}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if _, err := reopened.GetExecution(ctx, "e"); err != nil {
		t.Errorf("execution lost across reopen: %v", err)
	}
}

func TestMemoryStoresAreIsolated(t *testing.T) {
	a := testStore(t)
	b := testStore(t)
	seedExecution(t, a, "only-in-a")

	if _, err := b.GetExecution(context.Background(), "only-in-a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("memory stores share state: %v", err)
	}
}

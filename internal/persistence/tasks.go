package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aristath/autopilot/internal/scheduler"
)

// SaveTasks stores a freshly built task set in one transaction. Tasks are
// inserted before dependency edges, so forward references within the set are fine.
func (s *SQLiteStore) SaveTasks(ctx context.Context, tasks []scheduler.AgentTask) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, t := range tasks {
		if err := upsertTask(ctx, tx, t, i); err != nil {
			return err
		}
	}

	for _, t := range tasks {
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?`, t.ID); err != nil {
			return fmt.Errorf("failed to delete old dependencies: %w", err)
		}
		for pos, depID := range t.Dependencies {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO task_dependencies (task_id, depends_on_id, position)
				VALUES (?, ?, ?)
			`, t.ID, depID, pos)
			if err != nil {
				return fmt.Errorf("failed to insert dependency %s -> %s: %w", t.ID, depID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateTask persists the mutable fields of a task (status, retries, result,
// error, timestamps). The dependency edges are left as saved.
func (s *SQLiteStore) UpdateTask(ctx context.Context, t scheduler.AgentTask) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, retry_count = ?, result = ?, error = ?, assigned_at = ?, completed_at = ?
		WHERE id = ?
	`, string(t.Status), t.RetryCount, nullRaw(t.Result), t.Error, nullTime(t.AssignedAt), nullTime(t.CompletedAt), t.ID)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", t.ID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

// GetTask retrieves a task by ID, including its dependencies.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (scheduler.AgentTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, execution_id, work_item_id, title, role, status, priority, resources,
		       retry_count, max_retries, result, error, assigned_at, completed_at
		FROM tasks
		WHERE id = ?
	`, taskID)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return scheduler.AgentTask{}, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return scheduler.AgentTask{}, fmt.Errorf("failed to query task: %w", err)
	}

	deps, err := s.dependencies(ctx, `WHERE task_id = ?`, taskID)
	if err != nil {
		return scheduler.AgentTask{}, err
	}
	t.Dependencies = deps[t.ID]
	if t.Dependencies == nil {
		t.Dependencies = []string{}
	}
	return t, nil
}

// Tasks returns an execution's tasks in build order with their dependencies.
func (s *SQLiteStore) Tasks(ctx context.Context, executionID string) ([]scheduler.AgentTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, work_item_id, title, role, status, priority, resources,
		       retry_count, max_retries, result, error, assigned_at, completed_at
		FROM tasks
		WHERE execution_id = ?
		ORDER BY position
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	tasks := []scheduler.AgentTask{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	// Dependencies are loaded after the task rows are closed, in one query
	deps, err := s.dependencies(ctx,
		`WHERE task_id IN (SELECT id FROM tasks WHERE execution_id = ?)`, executionID)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		tasks[i].Dependencies = deps[tasks[i].ID]
		if tasks[i].Dependencies == nil {
			tasks[i].Dependencies = []string{}
		}
	}
	return tasks, nil
}

func (s *SQLiteStore) dependencies(ctx context.Context, where string, arg any) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, depends_on_id
		FROM task_dependencies
		`+where+`
		ORDER BY task_id, position
	`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	deps := make(map[string][]string)
	for rows.Next() {
		var taskID, depID string
		if err := rows.Scan(&taskID, &depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps[taskID] = append(deps[taskID], depID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return deps, nil
}

func upsertTask(ctx context.Context, tx *sql.Tx, t scheduler.AgentTask, position int) error {
	var resources sql.NullString
	if len(t.Resources) > 0 {
		b, err := json.Marshal(t.Resources)
		if err != nil {
			return fmt.Errorf("failed to encode resources: %w", err)
		}
		resources = sql.NullString{String: string(b), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, execution_id, position, work_item_id, title, role, status, priority, resources,
		                   retry_count, max_retries, result, error, assigned_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			position = excluded.position,
			work_item_id = excluded.work_item_id,
			title = excluded.title,
			role = excluded.role,
			status = excluded.status,
			priority = excluded.priority,
			resources = excluded.resources,
			retry_count = excluded.retry_count,
			max_retries = excluded.max_retries,
			result = excluded.result,
			error = excluded.error,
			assigned_at = excluded.assigned_at,
			completed_at = excluded.completed_at
	`, t.ID, t.ExecutionID, position, t.WorkItemID, t.Title, string(t.Role), string(t.Status), string(t.Priority),
		resources, t.RetryCount, t.MaxRetries, nullRaw(t.Result), t.Error, nullTime(t.AssignedAt), nullTime(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", t.ID, err)
	}
	return nil
}

func scanTask(row scanner) (scheduler.AgentTask, error) {
	var (
		t                           scheduler.AgentTask
		role, status, priority      string
		resources, result, errorStr sql.NullString
		assigned, completed         sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.ExecutionID, &t.WorkItemID, &t.Title, &role, &status, &priority, &resources,
		&t.RetryCount, &t.MaxRetries, &result, &errorStr, &assigned, &completed)
	if err != nil {
		return scheduler.AgentTask{}, err
	}

	t.Role = scheduler.Role(role)
	t.Status = scheduler.TaskStatus(status)
	t.Priority = scheduler.Priority(priority)
	t.Error = errorStr.String
	t.AssignedAt = fromNullTime(assigned)
	t.CompletedAt = fromNullTime(completed)
	if result.Valid && result.String != "" {
		t.Result = json.RawMessage(result.String)
	}
	if resources.Valid && resources.String != "" {
		if err := json.Unmarshal([]byte(resources.String), &t.Resources); err != nil {
			return scheduler.AgentTask{}, fmt.Errorf("failed to decode resources: %w", err)
		}
	}
	return t, nil
}

func nullRaw(b json.RawMessage) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

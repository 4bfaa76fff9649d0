package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/autopilot/internal/execution"
	"github.com/aristath/autopilot/internal/health"
)

// SaveExecution inserts or updates an execution record.
func (s *SQLiteStore) SaveExecution(ctx context.Context, e execution.Context) error {
	var healthJSON sql.NullString
	if e.Health != nil {
		b, err := json.Marshal(e.Health)
		if err != nil {
			return fmt.Errorf("failed to encode health snapshot: %w", err)
		}
		healthJSON = sql.NullString{String: string(b), Valid: true}
	}

	now := time.Now().UnixNano()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, plan_id, status, started_at, completed_at, total_tasks, completed_tasks, failed_tasks, health, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			plan_id = excluded.plan_id,
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			total_tasks = excluded.total_tasks,
			completed_tasks = excluded.completed_tasks,
			failed_tasks = excluded.failed_tasks,
			health = excluded.health,
			updated_at = excluded.updated_at
	`, e.ID, e.PlanID, string(e.Status), nullTime(e.StartedAt), nullTime(e.CompletedAt),
		e.TotalTasks, e.CompletedTasks, e.FailedTasks, healthJSON, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert execution %s: %w", e.ID, err)
	}
	return nil
}

// GetExecution loads one execution record.
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (execution.Context, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, plan_id, status, started_at, completed_at, total_tasks, completed_tasks, failed_tasks, health
		FROM executions
		WHERE id = ?
	`, id)

	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return execution.Context{}, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return execution.Context{}, fmt.Errorf("failed to query execution: %w", err)
	}
	return e, nil
}

// ListExecutions returns every execution of a plan, oldest first.
func (s *SQLiteStore) ListExecutions(ctx context.Context, planID string) ([]execution.Context, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, status, started_at, completed_at, total_tasks, completed_tasks, failed_tasks, health
		FROM executions
		WHERE plan_id = ?
		ORDER BY created_at, id
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	list := []execution.Context{}
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return list, nil
}

// DeleteExecution removes an execution and, by cascade, its tasks and snapshots.
func (s *SQLiteStore) DeleteExecution(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (execution.Context, error) {
	var (
		e                  execution.Context
		status             string
		started, completed sql.NullInt64
		healthJSON         sql.NullString
	)
	err := row.Scan(&e.ID, &e.PlanID, &status, &started, &completed,
		&e.TotalTasks, &e.CompletedTasks, &e.FailedTasks, &healthJSON)
	if err != nil {
		return execution.Context{}, err
	}

	e.Status = execution.Status(status)
	e.StartedAt = fromNullTime(started)
	e.CompletedAt = fromNullTime(completed)
	if healthJSON.Valid && healthJSON.String != "" {
		var snap health.Snapshot
		if err := json.Unmarshal([]byte(healthJSON.String), &snap); err != nil {
			return execution.Context{}, fmt.Errorf("failed to decode health snapshot: %w", err)
		}
		e.Health = &snap
	}
	return e, nil
}

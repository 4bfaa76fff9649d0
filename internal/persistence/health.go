package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/autopilot/internal/health"
)

// SaveHealthSnapshot archives a snapshot and trims the execution's archive
// to the configured limit, oldest first.
func (s *SQLiteStore) SaveHealthSnapshot(ctx context.Context, snap health.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode health snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO health_snapshots (execution_id, taken_at, score, payload)
		VALUES (?, ?, ?, ?)
	`, snap.ExecutionID, snap.Timestamp.UnixNano(), snap.Score, string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert health snapshot: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM health_snapshots
		WHERE execution_id = ? AND id NOT IN (
			SELECT id FROM health_snapshots
			WHERE execution_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`, snap.ExecutionID, snap.ExecutionID, s.snapshotLimit)
	if err != nil {
		return fmt.Errorf("failed to trim health snapshots: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// HealthSnapshots returns archived snapshots of an execution taken within
// [from, to], oldest first. A zero bound is open.
func (s *SQLiteStore) HealthSnapshots(ctx context.Context, executionID string, from, to time.Time) ([]health.Snapshot, error) {
	query := `SELECT payload FROM health_snapshots WHERE execution_id = ?`
	args := []any{executionID}
	if !from.IsZero() {
		query += ` AND taken_at >= ?`
		args = append(args, from.UnixNano())
	}
	if !to.IsZero() {
		query += ` AND taken_at <= ?`
		args = append(args, to.UnixNano())
	}
	query += ` ORDER BY taken_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query health snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []health.Snapshot{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan health snapshot: %w", err)
		}
		var snap health.Snapshot
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			return nil, fmt.Errorf("failed to decode health snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating health snapshots: %w", err)
	}
	return snaps, nil
}

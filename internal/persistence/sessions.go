package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveSession records the agent session a task runs in, so retries of the
// same task can resume it.
func (s *SQLiteStore) SaveSession(ctx context.Context, taskID, sessionID, backendType string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (task_id, session_id, backend_type, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			session_id = excluded.session_id,
			backend_type = excluded.backend_type
	`, taskID, sessionID, backendType, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession returns the session recorded for a task, or ErrNotFound.
func (s *SQLiteStore) GetSession(ctx context.Context, taskID string) (sessionID, backendType string, err error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = s.db.QueryRowContext(ctx, `
		SELECT session_id, backend_type
		FROM sessions
		WHERE task_id = ?
	`, taskID).Scan(&sessionID, &backendType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("session for task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to query session: %w", err)
	}
	return sessionID, backendType, nil
}

// SaveMessage appends one message to a task's conversation log.
func (s *SQLiteStore) SaveMessage(ctx context.Context, taskID, role, content string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_history (task_id, role, content, timestamp)
		VALUES (?, ?, ?, ?)
	`, taskID, role, content, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// GetHistory returns a task's conversation log in chronological order.
// Returns an empty slice (not nil) if there is none.
func (s *SQLiteStore) GetHistory(ctx context.Context, taskID string) ([]ConversationTurn, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, timestamp
		FROM conversation_history
		WHERE task_id = ?
		ORDER BY timestamp ASC, id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	history := []ConversationTurn{}
	for rows.Next() {
		var turn ConversationTurn
		var ts int64
		if err := rows.Scan(&turn.Role, &turn.Content, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		turn.Timestamp = time.Unix(0, ts).UTC()
		history = append(history, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return history, nil
}

package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aristath/autopilot/internal/backend"
	"github.com/aristath/autopilot/internal/logging"
	"github.com/aristath/autopilot/internal/scheduler"
)

// SessionStore remembers agent sessions and conversation turns per task.
type SessionStore interface {
	SaveSession(ctx context.Context, taskID, sessionID, backendType string) error
	GetSession(ctx context.Context, taskID string) (sessionID, backendType string, err error)
	SaveMessage(ctx context.Context, taskID, role, content string) error
}

// BackendConfig configures a Backend executor.
type BackendConfig struct {
	Roles     map[scheduler.Role]backend.Config
	Processes *backend.ProcessManager // optional
	Sessions  SessionStore            // optional
	Logger    *slog.Logger            // optional
}

// Backend runs tasks through agent subprocesses, one backend per call.
// A retried task resumes the session its previous attempt opened.
type Backend struct {
	cfg    BackendConfig
	logger *slog.Logger
}

// NewBackend creates a Backend executor.
func NewBackend(cfg BackendConfig) *Backend {
	return &Backend{cfg: cfg, logger: logging.OrDiscard(cfg.Logger)}
}

// Execute sends the task prompt to the role's backend.
func (b *Backend) Execute(ctx context.Context, task scheduler.AgentTask) (Result, error) {
	cfg, ok := b.cfg.Roles[task.Role]
	if !ok {
		return nil, Permanent(fmt.Errorf("no backend configured for role %q", task.Role))
	}

	if b.cfg.Sessions != nil {
		if sid, typ, err := b.cfg.Sessions.GetSession(ctx, task.ID); err == nil && typ == cfg.Type {
			cfg.SessionID = sid
		}
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	be, err := backend.New(cfg, b.cfg.Processes)
	if err != nil {
		return nil, Permanent(fmt.Errorf("create backend for role %s: %w", task.Role, err))
	}
	defer be.Close()

	prompt, err := Prompt(cfg.Type, task)
	if err != nil {
		return nil, Permanent(err)
	}
	b.record(ctx, task.ID, "user", prompt)

	resp, err := be.Send(ctx, backend.Message{Content: prompt, Role: "user"})
	if err != nil {
		return nil, fmt.Errorf("%s backend: %w", cfg.Type, err)
	}

	sessionID := resp.SessionID
	if sessionID == "" {
		sessionID = be.SessionID()
	}
	if b.cfg.Sessions != nil {
		if err := b.cfg.Sessions.SaveSession(ctx, task.ID, sessionID, cfg.Type); err != nil {
			b.logger.Warn("failed to save session", "task", task.ID, "error", err)
		}
	}
	b.record(ctx, task.ID, "assistant", resp.Content)

	if out := strings.TrimSpace(resp.Content); out != "" && json.Valid([]byte(out)) {
		return Result(out), nil
	}
	return json.Marshal(map[string]string{"output": resp.Content, "sessionId": sessionID})
}

func (b *Backend) record(ctx context.Context, taskID, role, content string) {
	if b.cfg.Sessions == nil {
		return
	}
	if err := b.cfg.Sessions.SaveMessage(ctx, taskID, role, content); err != nil {
		b.logger.Warn("failed to save conversation turn", "task", taskID, "error", err)
	}
}

// Prompt renders the input for a backend type: the task as JSON for
// command backends, a plain-language brief for agent CLIs.
func Prompt(backendType string, task scheduler.AgentTask) (string, error) {
	if backendType == "command" {
		b, err := json.Marshal(task)
		if err != nil {
			return "", fmt.Errorf("encode task %s: %w", task.ID, err)
		}
		return string(b), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are the %s agent.\n", task.Role)
	fmt.Fprintf(&sb, "Task: %s\n", task.Title)
	fmt.Fprintf(&sb, "Work item: %s\n", task.WorkItemID)
	fmt.Fprintf(&sb, "Priority: %s\n", task.Priority)
	if len(task.Resources) > 0 {
		fmt.Fprintf(&sb, "Resources: %s\n", strings.Join(task.Resources, ", "))
	}
	if task.RetryCount > 0 {
		fmt.Fprintf(&sb, "This is retry %d of %d; the previous attempt failed: %s\n", task.RetryCount, task.MaxRetries, task.Error)
	}
	sb.WriteString("Complete the task and reply with a short summary of what was done.")
	return sb.String(), nil
}

package backend

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CommandAdapter runs an arbitrary executable per message. The message
// content is written to stdin and trimmed stdout becomes the response.
// The session id is exported as AUTOPILOT_SESSION_ID.
type CommandAdapter struct {
	command   string
	args      []string
	env       []string
	workDir   string
	sessionID string
	procMgr   *ProcessManager
}

// NewCommandAdapter creates a command backend. cfg.Command is required.
func NewCommandAdapter(cfg Config, procMgr *ProcessManager) (*CommandAdapter, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("command backend requires a command")
	}
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &CommandAdapter{
		command:   cfg.Command,
		args:      append([]string(nil), cfg.Args...),
		env:       append([]string(nil), cfg.Env...),
		workDir:   cfg.WorkDir,
		sessionID: sessionID,
		procMgr:   procMgr,
	}, nil
}

// Send runs the command once with msg.Content on stdin.
func (a *CommandAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	cmd := newCommand(ctx, a.command, a.args...)
	cmd.Dir = a.workDir
	cmd.Env = append(cmd.Environ(), a.env...)
	cmd.Env = append(cmd.Env, "AUTOPILOT_SESSION_ID="+a.sessionID)

	stdout, _, err := executeCommand(ctx, cmd, a.procMgr, []byte(msg.Content))
	if err != nil {
		return Response{Error: err.Error(), SessionID: a.sessionID}, err
	}
	return Response{Content: string(bytes.TrimSpace(stdout)), SessionID: a.sessionID}, nil
}

// Close is a no-op.
func (a *CommandAdapter) Close() error {
	return nil
}

// SessionID returns the id passed to every invocation.
func (a *CommandAdapter) SessionID() string {
	return a.sessionID
}

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

// ClaudeAdapter implements the Backend interface for the Claude Code CLI.
type ClaudeAdapter struct {
	mu           sync.Mutex
	sessionID    string
	workDir      string
	model        string
	systemPrompt string
	started      bool
	procMgr      *ProcessManager
}

// claudeResponse is the JSON printed by `claude -p --output-format json`.
type claudeResponse struct {
	SessionID string          `json:"session_id"`
	IsError   bool            `json:"is_error"`
	Result    json.RawMessage `json:"result"`
}

// NewClaudeAdapter creates a new Claude Code backend adapter.
// If cfg.SessionID is empty, a new UUID is generated; a non-empty id is
// treated as an existing session and resumed on the first call.
// The ProcessManager is optional.
func NewClaudeAdapter(cfg Config, procMgr *ProcessManager) (*ClaudeAdapter, error) {
	sessionID := cfg.SessionID
	resume := sessionID != ""
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	return &ClaudeAdapter{
		sessionID:    sessionID,
		workDir:      workDir,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		started:      resume,
		procMgr:      procMgr,
	}, nil
}

// Send sends a message to the claude CLI and returns the response.
// The first call opens the session with --session-id, later calls --resume it.
func (a *ClaudeAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	a.mu.Lock()
	args := a.buildArgs(msg, a.started)
	a.mu.Unlock()

	cmd := newCommand(ctx, "claude", args...)
	cmd.Dir = a.workDir

	stdout, stderr, err := executeCommand(ctx, cmd, a.procMgr, nil)
	if err != nil {
		return Response{Error: fmt.Sprintf("claude command failed: %v", err)}, err
	}

	resp, err := parseClaudeResponse(stdout)
	if err != nil {
		return Response{
			Error: fmt.Sprintf("failed to parse claude response: %v (stderr: %s)", err, string(stderr)),
		}, err
	}

	a.mu.Lock()
	a.started = true
	a.mu.Unlock()
	return resp, nil
}

// Close is a no-op (subprocess-per-invocation model).
func (a *ClaudeAdapter) Close() error {
	return nil
}

// SessionID returns the current session identifier.
func (a *ClaudeAdapter) SessionID() string {
	return a.sessionID
}

// buildArgs constructs the command-line arguments for the claude CLI.
func (a *ClaudeAdapter) buildArgs(msg Message, isResume bool) []string {
	args := []string{"-p", msg.Content, "--output-format", "json"}

	if isResume {
		args = append(args, "--resume", a.sessionID)
	} else {
		args = append(args, "--session-id", a.sessionID)
	}
	if a.model != "" {
		args = append(args, "--model", a.model)
	}
	if a.systemPrompt != "" {
		args = append(args, "--system-prompt", a.systemPrompt)
	}
	return args
}

// parseClaudeResponse extracts the text result. The CLI reports result
// either as a plain string or as a content-block object.
func parseClaudeResponse(data []byte) (Response, error) {
	var cr claudeResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return Response{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	var content string
	if len(cr.Result) > 0 && cr.Result[0] == '"' {
		if err := json.Unmarshal(cr.Result, &content); err != nil {
			return Response{}, fmt.Errorf("failed to decode result: %w", err)
		}
	} else if len(cr.Result) > 0 {
		var blocks struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(cr.Result, &blocks); err != nil {
			return Response{}, fmt.Errorf("failed to decode result: %w", err)
		}
		for _, item := range blocks.Content {
			if item.Type == "text" {
				content += item.Text
			}
		}
	}

	resp := Response{Content: content, SessionID: cr.SessionID}
	if cr.IsError {
		resp.Error = content
		return resp, fmt.Errorf("claude reported an error: %s", content)
	}
	return resp, nil
}

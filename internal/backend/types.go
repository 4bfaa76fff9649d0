package backend

import "time"

// Message represents a message sent to the backend.
type Message struct {
	Content string
	Role    string // "user" or "system"
}

// Response represents a response from the backend.
type Response struct {
	Content   string
	SessionID string
	Error     string
}

// Config defines the configuration for a backend.
type Config struct {
	Type         string   // "claude" or "command"
	Command      string   // executable for the command backend
	Args         []string // extra arguments for the command backend
	Env          []string // extra KEY=VALUE pairs for the subprocess
	WorkDir      string
	SessionID    string
	Model        string
	SystemPrompt string
	Timeout      time.Duration // per-call limit, 0 for none
}

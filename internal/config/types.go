package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration written as a string ("1s", "250ms") in JSON.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"1s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RetryConfig controls per-task retries.
type RetryConfig struct {
	Enabled    bool     `json:"enabled"`
	MaxRetries int      `json:"max_retries"`
	BaseDelay  Duration `json:"base_delay"` // retry n waits n × base_delay
}

// HealthConfig controls health sampling.
type HealthConfig struct {
	Interval    Duration `json:"interval"`
	HistorySize int      `json:"history_size"` // snapshots kept per execution
}

// DispatchConfig controls task dispatch.
type DispatchConfig struct {
	Parallelism int `json:"parallelism"` // 1 dispatches sequentially
}

// BreakerConfig tunes the per-role circuit breakers.
type BreakerConfig struct {
	ConsecutiveFailures uint32   `json:"consecutive_failures"`
	OpenTimeout         Duration `json:"open_timeout"`
	HalfOpenRequests    uint32   `json:"half_open_requests"`
}

// BridgeConfig configures how clients follow a remote server.
type BridgeConfig struct {
	URL              string   `json:"url"`            // control surface and relay base URL
	PollInterval     Duration `json:"poll_interval"`  // negative disables polling
	ReconnectMode    string   `json:"reconnect_mode"` // exponential or fixed
	ReconnectInitial Duration `json:"reconnect_initial"`
	ReconnectMax     Duration `json:"reconnect_max"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr string `json:"addr"`
}

// StorageConfig locates the SQLite database. An empty path keeps state in
// memory.
type StorageConfig struct {
	Path string `json:"path"`
}

// PlansConfig locates plan files.
type PlansConfig struct {
	Dir string `json:"dir"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text or json
}

// RoleConfig selects and configures the executor for one role.
type RoleConfig struct {
	Executor     string   `json:"executor"`          // noop, command or claude
	Command      string   `json:"command,omitempty"` // binary for the command executor
	Args         []string `json:"args,omitempty"`
	Model        string   `json:"model,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	WorkDir      string   `json:"work_dir,omitempty"`
	Timeout      Duration `json:"timeout,omitempty"` // per attempt, 0 for none
}

// Config is the top-level configuration.
type Config struct {
	Retry    RetryConfig           `json:"retry"`
	Health   HealthConfig          `json:"health"`
	Dispatch DispatchConfig        `json:"dispatch"`
	Breaker  BreakerConfig         `json:"breaker"`
	Bridge   BridgeConfig          `json:"bridge"`
	Server   ServerConfig          `json:"server"`
	Storage  StorageConfig         `json:"storage"`
	Plans    PlansConfig           `json:"plans"`
	Log      LogConfig             `json:"log"`
	Roles    map[string]RoleConfig `json:"roles"`
}

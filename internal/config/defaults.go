package config

import (
	"time"

	"github.com/aristath/autopilot/internal/scheduler"
)

// Executor kinds accepted in RoleConfig.Executor.
const (
	ExecutorNoop    = "noop"
	ExecutorCommand = "command"
	ExecutorClaude  = "claude"
)

// DefaultConfig returns the built-in configuration. Every role runs the
// no-op executor until a config file says otherwise.
func DefaultConfig() *Config {
	roles := make(map[string]RoleConfig, len(scheduler.Roles))
	for _, r := range scheduler.Roles {
		roles[string(r)] = RoleConfig{Executor: ExecutorNoop}
	}

	return &Config{
		Retry: RetryConfig{
			Enabled:    true,
			MaxRetries: scheduler.DefaultMaxRetries,
			BaseDelay:  Duration(time.Second),
		},
		Health: HealthConfig{
			Interval:    Duration(30 * time.Second),
			HistorySize: 100,
		},
		Dispatch: DispatchConfig{Parallelism: 1},
		Breaker: BreakerConfig{
			ConsecutiveFailures: 5,
			OpenTimeout:         Duration(30 * time.Second),
			HalfOpenRequests:    3,
		},
		Bridge: BridgeConfig{
			URL:              "http://127.0.0.1:7420",
			PollInterval:     Duration(10 * time.Second),
			ReconnectMode:    "exponential",
			ReconnectInitial: Duration(500 * time.Millisecond),
			ReconnectMax:     Duration(30 * time.Second),
		},
		Server:  ServerConfig{Addr: "127.0.0.1:7420"},
		Storage: StorageConfig{Path: ".autopilot/autopilot.db"},
		Plans:   PlansConfig{Dir: "plans"},
		Log:     LogConfig{Level: "info", Format: "text"},
		Roles:   roles,
	}
}

package config

import (
	"github.com/aristath/autopilot/internal/backend"
	"github.com/aristath/autopilot/internal/scheduler"
)

// Backends returns the backend settings of every role that runs an agent
// subprocess. Roles on the no-op executor, or missing from the config, are
// left out.
func (c *Config) Backends() map[scheduler.Role]backend.Config {
	out := make(map[scheduler.Role]backend.Config)
	for name, rc := range c.Roles {
		if rc.Executor != ExecutorCommand && rc.Executor != ExecutorClaude {
			continue
		}
		out[scheduler.Role(name)] = backend.Config{
			Type:         rc.Executor,
			Command:      rc.Command,
			Args:         append([]string(nil), rc.Args...),
			WorkDir:      rc.WorkDir,
			Model:        rc.Model,
			SystemPrompt: rc.SystemPrompt,
			Timeout:      rc.Timeout.Std(),
		}
	}
	return out
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aristath/autopilot/internal/scheduler"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON or an invalid result is.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GlobalPath returns ~/.autopilot/config.json.
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".autopilot", "config.json"), nil
}

// ProjectPath is the project config, relative to the working directory.
const ProjectPath = ".autopilot/config.json"

// mergeConfigFile decodes a JSON config file over base. Fields the file
// leaves out keep their current value; a role entry replaces the whole
// role. Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.max_retries must not be negative"))
	}
	if c.Retry.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("retry.base_delay must not be negative"))
	}
	if c.Health.Interval <= 0 {
		errs = append(errs, fmt.Errorf("health.interval must be positive"))
	}
	if c.Dispatch.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("dispatch.parallelism must be at least 1"))
	}
	switch c.Bridge.ReconnectMode {
	case "exponential", "fixed":
	default:
		errs = append(errs, fmt.Errorf("bridge.reconnect_mode %q is not exponential or fixed", c.Bridge.ReconnectMode))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}

	for name, rc := range c.Roles {
		if !scheduler.Role(name).Valid() {
			errs = append(errs, fmt.Errorf("roles: unknown role %q", name))
			continue
		}
		switch rc.Executor {
		case ExecutorNoop, ExecutorClaude:
		case ExecutorCommand:
			if rc.Command == "" {
				errs = append(errs, fmt.Errorf("roles.%s: command executor needs a command", name))
			}
		default:
			errs = append(errs, fmt.Errorf("roles.%s: unknown executor %q", name, rc.Executor))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

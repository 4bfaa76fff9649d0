// Package cli implements the autopilot command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/autopilot/internal/config"
	"github.com/aristath/autopilot/internal/control"
	"github.com/aristath/autopilot/internal/logging"
)

// Options holds the persistent flags shared by every command.
type Options struct {
	ConfigPath string // project config override
	Server     string // control surface base URL override
	LogLevel   string
}

// Bind registers the persistent flags on root.
func (o *Options) Bind(root *cobra.Command) {
	root.PersistentFlags().StringVar(&o.ConfigPath, "config", config.ProjectPath, "project config file")
	root.PersistentFlags().StringVar(&o.Server, "server", "", "server base URL (default from config bridge.url)")
	root.PersistentFlags().StringVar(&o.LogLevel, "log-level", "", "log level: debug, info, warn, error")
}

// paths returns the global and project config paths.
func (o *Options) paths() (global, project string, err error) {
	global, err = config.GlobalPath()
	if err != nil {
		return "", "", err
	}
	return global, o.ConfigPath, nil
}

func (o *Options) load() (*config.Config, error) {
	global, project, err := o.paths()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(global, project)
	if err != nil {
		return nil, err
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.Server != "" {
		cfg.Bridge.URL = o.Server
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
}

// remote returns a control client for the configured server.
func (o *Options) remote() (*config.Config, *control.Client, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Bridge.URL == "" {
		return nil, nil, fmt.Errorf("no server URL: set bridge.url or pass --server")
	}
	return cfg, control.NewClient(cfg.Bridge.URL, nil), nil
}

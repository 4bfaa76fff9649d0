package cli

import (
	"errors"
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/aristath/autopilot/internal/bridge"
	"github.com/aristath/autopilot/internal/config"
	"github.com/aristath/autopilot/internal/control"
	"github.com/aristath/autopilot/internal/events"
	"github.com/aristath/autopilot/internal/transport/socketio"
	"github.com/aristath/autopilot/internal/tui"
)

// WatchCmd returns the watch command.
func WatchCmd(opts *Options) *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "watch <execution-id>",
		Short: "Follow an execution on the server live",
		Long: `Watch follows one execution through the server's event relay.

It streams over WebSocket, falls back to HTTP long-polling if that link drops,
and polls the status endpoint in the background. Without --plain it opens the
dashboard, where p, r and c pause, resume and cancel the execution.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, client, err := opts.remote()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			id := args[0]

			b, err := newRemoteBridge(cfg, client)
			if err != nil {
				return err
			}
			defer b.Close()

			if !plain {
				global, project, err := opts.paths()
				if err != nil {
					return err
				}
				p := tea.NewProgram(tui.New(b, id, cfg, global, project), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
				if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
					return err
				}
				return nil
			}

			ctx := cmd.Context()
			st, err := client.GetStatus(ctx, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printState(out, st)
			if st.Execution != nil && st.Execution.Status.Terminal() {
				return nil
			}
			fmt.Fprintln(out)

			done := make(chan struct{})
			var (
				mu     sync.Mutex
				finish sync.Once
			)
			unsub := b.Subscribe(id, func(ev events.BridgeEvent) {
				if ev.Type == events.MetricsUpdate {
					return
				}
				mu.Lock()
				printEvent(out, ev)
				mu.Unlock()
				if terminalEvent(ev) {
					finish.Do(func() { close(done) })
				}
			})
			defer unsub()

			select {
			case <-done:
			case <-ctx.Done():
			}
			logger.Debug("watch finished", "execution", id)
			return nil
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "print events as lines instead of opening the dashboard")

	return cmd
}

// newRemoteBridge follows a server through its relay and control surface.
func newRemoteBridge(cfg *config.Config, client *control.Client) (*bridge.Bridge, error) {
	logger := newLogger(cfg)

	duplex, err := socketio.NewDuplex(cfg.Bridge.URL, logger)
	if err != nil {
		return nil, err
	}
	push, err := socketio.NewPush(cfg.Bridge.URL, logger)
	if err != nil {
		return nil, err
	}

	return bridge.New(bridge.Config{
		Control:      client,
		Duplex:       duplex,
		Push:         push,
		PollInterval: cfg.Bridge.PollInterval.Std(),
		Reconnect: bridge.ReconnectConfig{
			Mode:    bridge.ReconnectMode(cfg.Bridge.ReconnectMode),
			Initial: cfg.Bridge.ReconnectInitial.Std(),
			Max:     cfg.Bridge.ReconnectMax.Std(),
		},
		Logger: logger,
	}), nil
}

package cli

import (
	"errors"
	"fmt"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/aristath/autopilot/internal/bridge"
	"github.com/aristath/autopilot/internal/events"
	"github.com/aristath/autopilot/internal/execution"
	"github.com/aristath/autopilot/internal/logging"
	"github.com/aristath/autopilot/internal/plan"
	"github.com/aristath/autopilot/internal/tui"
)

// RunCmd returns the run command.
func RunCmd(opts *Options) *cobra.Command {
	var withTUI bool

	cmd := &cobra.Command{
		Use:   "run <plan-id|plan-file>",
		Short: "Execute a plan in-process and follow it to the end",
		Long: `Run builds the task graph for a plan and executes it in this process.

The argument is either a plan id looked up in the plans directory or the path
of a plan file (.yaml, .yml, .json or .hcl). The command exits non-zero unless
the execution completes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx := logging.WithLogger(cmd.Context(), logger)

			planID, plans, err := resolvePlan(args[0])
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, cfg, plans)
			if err != nil {
				return err
			}
			defer rt.Close()

			exec, err := rt.engine.Initialize(ctx, planID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			drain := func() {}
			if withTUI {
				b := bridge.New(bridge.Config{
					Control:      rt.engine,
					Duplex:       bridge.BusTransport{Bus: rt.bus},
					PollInterval: cfg.Bridge.PollInterval.Std(),
					Logger:       logger,
				})
				defer b.Close()

				if err := rt.engine.Start(ctx, exec.ID); err != nil {
					return err
				}
				global, project, err := opts.paths()
				if err != nil {
					return err
				}
				p := tea.NewProgram(tui.New(b, exec.ID, cfg, global, project), tea.WithAltScreen(), tea.WithContext(ctx))
				if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
					return err
				}
				// Leaving the dashboard early stops the run.
				if st, ok := b.State(exec.ID); ok && st.Execution != nil && !st.Execution.Status.Terminal() {
					if err := rt.engine.Cancel(ctx, exec.ID); err != nil {
						logger.Debug("cancel after dashboard exit", "error", err)
					}
				}
			} else {
				sub := rt.bus.Subscribe(exec.ID, events.DefaultBufferSize)
				printed := make(chan struct{})
				go func() {
					defer close(printed)
					for ev := range sub {
						printEvent(out, ev)
					}
				}()
				var once sync.Once
				drain = func() {
					once.Do(func() {
						rt.bus.Unsubscribe(sub)
						<-printed
					})
				}
				defer drain()

				if err := rt.engine.Start(ctx, exec.ID); err != nil {
					return err
				}
			}

			final, err := rt.engine.Wait(ctx, exec.ID)
			if err != nil {
				return err
			}
			drain()
			st, err := rt.engine.GetStatus(ctx, exec.ID)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			printState(out, st)

			if final.Status != execution.StatusCompleted {
				return fmt.Errorf("execution %s ended %s", final.ID, final.Status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withTUI, "tui", false, "follow the execution in the dashboard")

	return cmd
}

// resolvePlan treats arg as a plan file when one exists at that path and
// as a plan id otherwise. A nil source means the configured plan directory.
func resolvePlan(arg string) (string, plan.Source, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		p, err := plan.Load(arg)
		if err != nil {
			return "", nil, err
		}
		return p.ID, plan.NewMemorySource(p), nil
	}
	return arg, nil, nil
}

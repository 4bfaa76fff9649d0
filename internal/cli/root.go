package cli

import "github.com/spf13/cobra"

// NewRootCmd assembles the autopilot command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &Options{}

	root := &cobra.Command{
		Use:     "autopilot",
		Short:   "Autopilot - autonomous task execution for plans",
		Version: version,
		Long: `Autopilot turns a plan's work items into role tasks, schedules them by
dependency and priority, runs them through executors with retries and
reports progress and health in real time.`,
		SilenceUsage: true,
	}
	opts.Bind(root)

	// In-process
	root.AddCommand(ServeCmd(opts))
	root.AddCommand(RunCmd(opts))
	root.AddCommand(GraphCmd(opts))
	root.AddCommand(InitCmd(opts))
	root.AddCommand(HistoryCmd(opts))

	// Against a running server
	root.AddCommand(StartCmd(opts))
	root.AddCommand(StatusCmd(opts))
	root.AddCommand(MetricsCmd(opts))
	root.AddCommand(PauseCmd(opts))
	root.AddCommand(ResumeCmd(opts))
	root.AddCommand(CancelCmd(opts))
	root.AddCommand(WatchCmd(opts))

	return root
}

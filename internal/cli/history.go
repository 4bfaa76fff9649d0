package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/autopilot/internal/logging"
)

// HistoryCmd returns the history command.
func HistoryCmd(opts *Options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history <plan-id>",
		Short: "List the recorded executions of a plan from the local store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx := logging.WithLogger(cmd.Context(), newLogger(cfg))

			rt, err := newRuntime(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			list, err := rt.engine.Executions(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, list)
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintf(out, "no executions recorded for plan %s\n", args[0])
				return nil
			}
			for _, e := range list {
				started := "-"
				if e.StartedAt != nil {
					started = e.StartedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(out, "%s  %-20s %s  %d/%d completed, %d failed\n",
					e.ID, started, executionStatus(e.Status), e.CompletedTasks, e.TotalTasks, e.FailedTasks)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the executions as JSON")

	return cmd
}

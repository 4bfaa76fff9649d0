package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/autopilot/internal/plan"
	"github.com/aristath/autopilot/internal/scheduler"
)

// GraphCmd returns the graph command.
func GraphCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "graph <plan-file>",
		Short: "Build and validate the task graph of a plan without running it",
		Long: `Graph classifies every work item of a plan into role tasks, validates the
resulting dependency graph and prints it in dispatch layers.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			p, err := plan.Load(args[0])
			if err != nil {
				return err
			}

			tasks, v := scheduler.NewBuilder(cfg.Retry.MaxRetries).Build(p.ID, p.Items)
			out := cmd.OutOrStdout()
			if !v.Valid {
				fmt.Fprintf(out, "%s plan %s\n", colorFail.Sprint("invalid"), p.ID)
				for _, issue := range v.Issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
				return fmt.Errorf("plan %s has %d graph issue(s)", p.ID, len(v.Issues))
			}

			byID := make(map[string]scheduler.AgentTask, len(tasks))
			for _, t := range tasks {
				byID[t.ID] = t
			}

			fmt.Fprintf(out, "%s plan %s: %d work items, %d tasks\n", colorOK.Sprint("valid"), p.ID, len(p.Items), len(tasks))
			for i, layer := range scheduler.Layers(tasks) {
				fmt.Fprintf(out, "\n%s\n", colorHeading.Sprintf("layer %d", i+1))
				for _, id := range layer {
					t := byID[id]
					fmt.Fprintf(out, "  %-14s %-7s %s", t.Role, t.Priority, t.Title)
					if len(t.Resources) > 0 {
						fmt.Fprintf(out, " %s", colorMuted.Sprint(t.Resources))
					}
					fmt.Fprintln(out)
				}
			}
			return nil
		},
	}
}

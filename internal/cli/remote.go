package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/autopilot/internal/control"
)

// StartCmd returns the start command.
func StartCmd(opts *Options) *cobra.Command {
	var initOnly bool

	cmd := &cobra.Command{
		Use:   "start <plan-id>",
		Short: "Initialize and start an execution on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := opts.remote()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			exec, err := client.Initialize(ctx, args[0])
			if err != nil {
				return err
			}
			if !initOnly {
				if err := client.Start(ctx, exec.ID); err != nil {
					return fmt.Errorf("start %s: %w", exec.ID, err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), exec.ID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&initOnly, "init-only", false, "create the execution without starting it")

	return cmd
}

// StatusCmd returns the status command.
func StatusCmd(opts *Options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <execution-id>",
		Short: "Show an execution with its tasks and health",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := opts.remote()
			if err != nil {
				return err
			}
			st, err := client.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, st)
			}
			printState(cmd.OutOrStdout(), st)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw state as JSON")

	return cmd
}

// MetricsCmd returns the metrics command.
func MetricsCmd(opts *Options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "metrics <execution-id>",
		Short: "Show aggregate metrics of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := opts.remote()
			if err != nil {
				return err
			}
			m, err := client.GetMetrics(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, m)
			}
			printMetrics(cmd.OutOrStdout(), m)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the metrics as JSON")

	return cmd
}

// PauseCmd returns the pause command.
func PauseCmd(opts *Options) *cobra.Command {
	return lifecycleCmd(opts, "pause", "Pause a running execution after its in-flight tasks", (*control.Client).Pause)
}

// ResumeCmd returns the resume command.
func ResumeCmd(opts *Options) *cobra.Command {
	return lifecycleCmd(opts, "resume", "Resume a paused execution", (*control.Client).Resume)
}

// CancelCmd returns the cancel command.
func CancelCmd(opts *Options) *cobra.Command {
	return lifecycleCmd(opts, "cancel", "Cancel an execution; unfinished tasks are skipped", (*control.Client).Cancel)
}

func lifecycleCmd(opts *Options, name, short string, op func(*control.Client, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <execution-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := opts.remote()
			if err != nil {
				return err
			}
			if err := op(client, cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s requested\n", args[0], name)
			return nil
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

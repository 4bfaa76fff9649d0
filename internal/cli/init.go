package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/autopilot/internal/config"
)

// InitCmd returns the init command.
func InitCmd(opts *Options) *cobra.Command {
	var global, force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file and create the plans directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			globalPath, projectPath, err := opts.paths()
			if err != nil {
				return err
			}
			path := projectPath
			if global {
				path = globalPath
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			cfg := config.DefaultConfig()
			if err := config.Save(cfg, path); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", colorOK.Sprint("wrote"), path)

			if !global {
				if err := os.MkdirAll(cfg.Plans.Dir, 0755); err != nil {
					return fmt.Errorf("creating plans directory: %w", err)
				}
				fmt.Fprintf(out, "%s %s/\n", colorOK.Sprint("plans"), cfg.Plans.Dir)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "write ~/.autopilot/config.json instead of the project config")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}

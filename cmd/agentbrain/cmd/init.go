package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentbrain/agentbrain/configs"
	"github.com/agentbrain/agentbrain/internal/project"
)

func newInitCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the project state directory and a config template",
		Long: `Creates <project>/.agentbrain with a commented config.yaml. The
template matches the built-in defaults, so editing it is optional.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := project.Resolve(opts.projectRoot)
			if err != nil {
				return err
			}
			if err := paths.EnsureDirs(); err != nil {
				return err
			}

			if _, err := os.Stat(paths.ConfigFile); err == nil && !force {
				fmt.Printf("Config already exists at %s (use --force to overwrite)\n", paths.ConfigFile)
				return nil
			}
			if err := os.WriteFile(paths.ConfigFile, []byte(configs.ConfigTemplate), 0o644); err != nil {
				return err
			}
			fmt.Printf("Initialized %s\n", paths.StateDir)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config.yaml")
	return cmd
}

// Package cmd provides the CLI commands for Agent Brain.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentbrain/agentbrain/internal/config"
	"github.com/agentbrain/agentbrain/internal/logging"
	"github.com/agentbrain/agentbrain/internal/project"
	"github.com/agentbrain/agentbrain/pkg/version"
)

// rootOptions are the persistent flags shared by all commands.
type rootOptions struct {
	projectRoot string
	configPath  string
	debug       bool
}

// NewRootCmd creates the root command for the agentbrain CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "agentbrain",
		Short: "Local-first retrieval service for coding agents",
		Long: `Agent Brain indexes a project's docs and source code into a local
store and serves keyword, vector, hybrid, and graph search over it.

State lives under <project>/.agentbrain; run 'agentbrain index' to build
the index and 'agentbrain serve' to expose the HTTP API.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("agentbrain version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&opts.projectRoot, "project", "p", ".", "Project root directory")
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to config.yaml (default <project>/.agentbrain/config.yaml)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newInitCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newJobsCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the CLI with signal-aware cancellation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// loadSettings resolves the project layout and loads configuration.
func loadSettings(opts *rootOptions) (*config.ProviderSettings, *project.Paths, error) {
	paths, err := project.Resolve(opts.projectRoot)
	if err != nil {
		return nil, nil, err
	}
	configPath := opts.configPath
	if configPath == "" {
		configPath = paths.ConfigFile
	}
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	return settings, paths, nil
}

// setupLogging installs the process-wide logger per the debug flag.
func setupLogging(opts *rootOptions) (func(), error) {
	cfg := logging.DefaultConfig()
	if opts.debug {
		cfg.Level = "debug"
	}
	return logging.SetupDefault(cfg)
}

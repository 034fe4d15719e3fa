package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/agentbrain/agentbrain/internal/pipeline"
	"github.com/agentbrain/agentbrain/internal/profiling"
	"github.com/agentbrain/agentbrain/internal/server"
)

func newIndexCmd(opts *rootOptions) *cobra.Command {
	var includeCode bool
	var force bool
	var patterns []string
	var cpuProfile, memProfile string

	cmd := &cobra.Command{
		Use:   "index [folder]",
		Short: "Index a folder into the project store",
		Long: `Runs the indexing pipeline synchronously over the folder (default:
the project root). Unchanged files are skipped; removed files are pruned
from the index.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cleanup, err := setupLogging(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			settings, _, err := loadSettings(opts)
			if err != nil {
				return err
			}

			folder := opts.projectRoot
			if len(args) == 1 {
				folder = args[0]
			}

			if cpuProfile != "" {
				stop, err := profiling.StartCPU(cpuProfile)
				if err != nil {
					return err
				}
				defer stop()
			}

			ctx := cmd.Context()
			app, err := server.NewApp(ctx, opts.projectRoot, settings, slog.Default())
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.Pipeline.Run(ctx, folder, pipeline.Options{
				IncludeCode: includeCode,
				Patterns:    patterns,
				Force:       force,
				OnProgress: func(p pipeline.Progress) {
					fmt.Printf("  %3.0f%%  %d/%d files  %d chunks  %s\n",
						p.Percent, p.FilesProcessed, p.FilesTotal, p.ChunksCreated, p.CurrentFile)
				},
			})
			if err != nil {
				return err
			}

			fmt.Printf("Indexed %d files (%d skipped): +%d chunks, -%d chunks, %d sources removed\n",
				result.FilesProcessed, result.FilesSkipped,
				result.ChunksCreated, result.ChunksDeleted, result.SourcesRemoved)

			if memProfile != "" {
				if err := profiling.WriteHeap(memProfile); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&includeCode, "code", true, "Index source code in addition to docs")
	cmd.Flags().BoolVar(&force, "force", false, "Reset the store when the embedding provider changed")
	cmd.Flags().StringSliceVar(&patterns, "pattern", nil, "Restrict indexing to matching path globs (repeatable)")
	cmd.Flags().StringVar(&cpuProfile, "cpu-profile", "", "Write a CPU profile to this file")
	cmd.Flags().StringVar(&memProfile, "mem-profile", "", "Write a heap profile to this file after indexing")
	return cmd
}

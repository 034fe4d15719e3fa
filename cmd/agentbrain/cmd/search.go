package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentbrain/agentbrain/internal/backend"
	"github.com/agentbrain/agentbrain/internal/model"
	"github.com/agentbrain/agentbrain/internal/search"
	"github.com/agentbrain/agentbrain/internal/server"
)

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var mode string
	var topK int
	var graphDepth int
	var minScore float64
	var format string
	var sourceTypes []string
	var languages []string
	var globs []string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the project index",
		Long: `Searches the indexed project. Modes: keyword, vector, hybrid, graph,
multi.

Examples:
  agentbrain search "authentication middleware"
  agentbrain search "verify token" --mode vector --top-k 5
  agentbrain search "what imports jwt" --mode graph
  agentbrain search "error handling" --format json --lang go`,
		Args: cobra.MinimumNArgs(1),
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

			ctx := cmd.Context()
			app, err := server.NewApp(ctx, opts.projectRoot, settings, slog.Default())
			if err != nil {
				return err
			}
			defer app.Close()

			var filters *backend.SearchFilters
			if len(sourceTypes) > 0 || len(languages) > 0 || len(globs) > 0 {
				filters = &backend.SearchFilters{
					Languages: languages,
					PathGlobs: globs,
				}
				for _, st := range sourceTypes {
					filters.SourceTypes = append(filters.SourceTypes, model.SourceType(st))
				}
			}

			results, err := app.Engine.Search(ctx, search.Request{
				Query:      strings.Join(args, " "),
				Mode:       search.Mode(mode),
				TopK:       topK,
				GraphDepth: graphDepth,
				MinScore:   minScore,
				Filters:    filters,
			})
			if err != nil {
				return err
			}

			if format == "json" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			if len(results) == 0 {
				fmt.Println("No results.")
				return nil
			}
			for i, r := range results {
				fmt.Printf("%2d. [%.3f] %s", i+1, r.Score, r.Metadata.Source)
				if r.Metadata.SymbolName != "" {
					fmt.Printf("  %s %s", r.Metadata.SymbolKind, r.Metadata.SymbolName)
				}
				fmt.Println()
				fmt.Println(indent(snippet(r.Text), "    "))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "hybrid", "Search mode: keyword, vector, hybrid, graph, multi")
	cmd.Flags().IntVarP(&topK, "top-k", "n", 10, "Maximum number of results")
	cmd.Flags().IntVar(&graphDepth, "graph-depth", 0, "Graph traversal depth (graph mode)")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "Drop vector results scoring below this threshold")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringSliceVar(&sourceTypes, "type", nil, "Filter by source type: doc, code, test")
	cmd.Flags().StringSliceVar(&languages, "lang", nil, "Filter by language")
	cmd.Flags().StringSliceVar(&globs, "path", nil, "Filter by path glob")
	return cmd
}

// snippet trims a chunk down to its first few lines for terminal display.
func snippet(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) > 4 {
		lines = append(lines[:4], "...")
	}
	return strings.Join(lines, "\n")
}

func indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentbrain/agentbrain/internal/project"
	"github.com/agentbrain/agentbrain/internal/queue"
)

func newJobsCmd(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List index jobs for the project",
		Long: `Reads the durable job log and prints every job with its status,
progress, and error if any. Works while a server owns the queue; this is
a read-only view.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := project.Resolve(opts.projectRoot)
			if err != nil {
				return err
			}
			jobs, err := queue.ReadJobs(paths.JobsDir)
			if err != nil {
				return err
			}

			if format == "json" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(jobs)
			}

			if len(jobs) == 0 {
				fmt.Println("No jobs.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tPATH\tPROGRESS\tRETRIES\tERROR")
			for _, job := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%d\t%s\n",
					shortID(job.ID), job.Status, job.Path,
					job.Progress.Percent, job.RetryCount, job.Error)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

// shortID truncates a UUID for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

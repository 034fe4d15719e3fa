package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentbrain/agentbrain/internal/model"
	"github.com/agentbrain/agentbrain/internal/project"
	"github.com/agentbrain/agentbrain/internal/queue"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the project's server and queue state",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := project.Resolve(opts.projectRoot)
			if err != nil {
				return err
			}

			rt, err := paths.ReadRuntime()
			if err != nil {
				return err
			}
			if rt == nil {
				fmt.Println("Server: not running (no runtime descriptor)")
			} else {
				fmt.Printf("Server: %s (pid %d, started %s)\n",
					rt.BaseURL, rt.PID, rt.StartedAt.Format("2006-01-02 15:04:05"))
			}

			jobs, err := queue.ReadJobs(paths.JobsDir)
			if err != nil {
				return err
			}
			counts := map[model.JobStatus]int{}
			for _, job := range jobs {
				counts[job.Status]++
			}
			fmt.Printf("Jobs: %d pending, %d running, %d done, %d failed, %d cancelled\n",
				counts[model.JobStatusPending], counts[model.JobStatusRunning],
				counts[model.JobStatusDone], counts[model.JobStatusFailed],
				counts[model.JobStatusCancelled])
			return nil
		},
	}
}

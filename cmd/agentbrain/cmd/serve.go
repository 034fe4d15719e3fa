package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/agentbrain/agentbrain/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var host string
	var port int
	var foreground bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the background index worker",
		Long: `Starts the Agent Brain server for the project: the job queue worker
picks up index jobs, and the HTTP API serves search, index, and job
endpoints. The runtime descriptor (runtime.json) is written before the
listener accepts traffic.`,
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

			app.Queue.Start(ctx)

			srv, err := server.New(app.Engine, app.Queue, app.Backend, app.Logger)
			if err != nil {
				return err
			}
			return srv.ListenAndServe(ctx, host, port, app.Paths, foreground)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Bind host")
	cmd.Flags().IntVar(&port, "port", 0, "Bind port (0 picks a free port)")
	cmd.Flags().BoolVar(&foreground, "foreground", true, "Record foreground mode in the runtime descriptor")
	return cmd
}

package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-acquirer/internal/server"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <site>",
		Short: "Run the pipeline for one site and print the finished job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(app *server.App, _ *env) error {
				job, runErr := app.Orchestrator().Run(ctx, args[0])
				if job.ID != uuid.Nil {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					if err := enc.Encode(job); err != nil {
						return fmt.Errorf("write job: %w", err)
					}
				}
				return runErr
			})
		},
	}
}

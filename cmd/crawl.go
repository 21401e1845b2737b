package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-acquirer/internal/server"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl <site>",
		Short: "Crawl one site and print every URL that would be scraped",
		Long: `Runs URL discovery for the site without scraping or storing anything.
Each visited URL is printed on its own line as it is reached.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(app *server.App, e *env) error {
				out := cmd.OutOrStdout()
				stats, err := app.Orchestrator().Discover(ctx, args[0], func(_ context.Context, url string) error {
					_, werr := fmt.Fprintln(out, url)
					return werr
				})
				if err != nil {
					return fmt.Errorf("crawl %s: %w", args[0], err)
				}
				e.logger.Info("crawl finished",
					zap.String("site", args[0]),
					zap.Int("visited", stats.Visited),
					zap.Int("failed", stats.Failed),
				)
				return nil
			})
		},
	}
}

// Package cmd defines the site-acquirer CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-acquirer/internal/config"
	"github.com/JakeFAU/site-acquirer/internal/logging"
	"github.com/JakeFAU/site-acquirer/internal/server"
)

type envKeyType struct{}

// env is what PersistentPreRunE hands to subcommands.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// buildApp is a variable so tests can swap the application factory.
var buildApp = server.Build

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "site-acquirer",
		Short: "Crawl configured sites and store the records scraped from them.",
		Long: `site-acquirer discovers pages on configured sites, scrapes structured
records from them with CSS, XPath or model-driven parsers, cleans and
validates those records and upserts them into Postgres.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKeyType{}, &env{cfg: cfg, logger: logger}))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKeyType{}).(*env); ok {
				_ = e.logger.Sync() //nolint:errcheck // stderr sync fails on some terminals
			}
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML or JSON); ACQUIRER_* env vars override it")

	cmd.AddCommand(newServeCmd(), newRunCmd(), newCrawlCmd(), newValidateCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKeyType{}).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not initialized")
	}
	return e, nil
}

// withApp builds the application, runs fn and releases the application.
func withApp(ctx context.Context, fn func(*server.App, *env) error) error {
	e, err := resolveEnv(ctx)
	if err != nil {
		return err
	}
	app, err := buildApp(ctx, e.cfg, e.logger)
	if app != nil {
		defer app.Close()
	}
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	return fn(app, e)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx := context.Background()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

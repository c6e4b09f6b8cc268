// Package cmd defines and implements the CLI commands for the corpus-refinery
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-refinery/internal/api"
	"github.com/JakeFAU/corpus-refinery/internal/app"
	"github.com/JakeFAU/corpus-refinery/internal/config"
	"github.com/JakeFAU/corpus-refinery/internal/logging"
	"github.com/JakeFAU/corpus-refinery/internal/pipeline"
	"github.com/JakeFAU/corpus-refinery/internal/workflow"
)

// App is the part of the application container the commands use. Tests
// swap the factory to inject their own.
type App interface {
	Logger() *zap.Logger
	NewSession(opts pipeline.Options) (*pipeline.Pipeline, error)
	RunSession(ctx context.Context, req workflow.IngestRequest) (*pipeline.Pipeline, workflow.IngestResult, error)
	NewServer(session *pipeline.Pipeline) (*api.Server, error)
	NewTemporalWorker() worker.Worker
	Close(ctx context.Context)
}

type contextKey string

const (
	appKey    contextKey = "app"
	configKey contextKey = "config"
)

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "corpus-refinery",
		Short: "Cleans, deduplicates and chunks crawled documents for a retrieval corpus.",
		Long: `corpus-refinery turns noisy crawled markup into clean, unique,
retrieval-sized chunks. Documents come from local files, from URLs fetched
with colly, or from the HTTP API, and every session reports crawl metrics.`,
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

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			ctx = context.WithValue(ctx, configKey, cfg)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolve(ctx context.Context) (App, config.Config, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, config.Config{}, errors.New("application services not initialized")
	}
	cfg, _ := ctx.Value(configKey).(config.Config)
	return appInstance, cfg, nil
}

// Package cmd defines and implements the CLI commands for the bowatch executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ahenriksson/bowatch/internal/config"
	"github.com/ahenriksson/bowatch/internal/logging"
	"github.com/ahenriksson/bowatch/internal/metrics"
)

var cfgFile string

type appKey struct{}

// app bundles the loaded configuration and logger for subcommands.
type app struct {
	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bowatch",
		Short: "Crawls Booli search results and tracks listing changes over time.",
		Long: `bowatch fetches apartment search-result pages, resolves the data graph
embedded in each page, and normalizes the listings into a snapshot. Each
run is diffed against the previous snapshot so new listings, price
changes, valuation changes and removals show up as explicit events.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			metrics.Init()

			ctx := context.WithValue(cmd.Context(), appKey{}, &app{cfg: cfg, logger: logger})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey{}).(*app); ok && a != nil {
				_ = a.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newAssembleCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app, error) {
	a, ok := ctx.Value(appKey{}).(*app)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "bowatch: %v\n", err)
		os.Exit(1)
	}
}

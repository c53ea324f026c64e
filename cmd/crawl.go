package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ahenriksson/bowatch/internal/cache"
	"github.com/ahenriksson/bowatch/internal/clock/system"
	"github.com/ahenriksson/bowatch/internal/config"
	"github.com/ahenriksson/bowatch/internal/extract"
	"github.com/ahenriksson/bowatch/internal/fetch"
	"github.com/ahenriksson/bowatch/internal/fetch/headless"
	"github.com/ahenriksson/bowatch/internal/listing"
	"github.com/ahenriksson/bowatch/internal/pipeline"
	"github.com/ahenriksson/bowatch/internal/snapshot"
)

// newCrawlCmd creates the 'crawl' subcommand: fetch every configured search
// page (and discovered result pages), extract listings, and write a snapshot.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Fetches the configured search pages and writes a new snapshot",
		RunE:  runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	p, cleanup, err := buildPipeline(a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer cleanup()

	snap, err := p.Run(cmd.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.logger.Info("crawl interrupted")
			return nil
		}
		return fmt.Errorf("run crawl: %w", err)
	}

	a.logger.Info("crawl finished",
		zap.Int("objects", len(snap.Objects)),
		zap.Int("changes", len(snap.Changes)),
		zap.Int("errors", len(snap.Errors)))
	return nil
}

// buildPipeline wires the cache, fetcher, optional renderer and extractor
// into a ready-to-run pipeline. The returned cleanup releases the headless
// browser allocator when one was started.
func buildPipeline(cfg config.Config, logger *zap.Logger) (*pipeline.Pipeline, func(), error) {
	clock := system.New()

	cacheStore, err := cache.New(cfg.Cache.Dir, cfg.Cache.TTL(), clock, logger.Named("cache"))
	if err != nil {
		return nil, nil, fmt.Errorf("init cache: %w", err)
	}

	fetcher := fetch.New(fetch.Config{
		UserAgent:   cfg.Crawl.UserAgent,
		Timeout:     cfg.HTTP.Timeout(),
		Delay:       cfg.Crawl.Delay(),
		MaxRetries:  cfg.HTTP.MaxRetries,
		BackoffBase: cfg.HTTP.BackoffBase(),
		BackoffMax:  cfg.HTTP.BackoffMax(),
	}, cacheStore, clock, logger.Named("fetch"))

	cleanup := func() {}
	var renderer listing.Renderer
	if cfg.Headless.Enabled {
		chrome := headless.NewChromedp(headless.Config{
			UserAgent:         cfg.Crawl.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		}, logger.Named("headless"))
		renderer = chrome
		cleanup = chrome.Close
	}

	p := pipeline.New(pipeline.Config{
		StartURLs:       cfg.Crawl.StartURLs,
		SnapshotDir:     cfg.Snapshot.Dir,
		MaxPages:        cfg.Crawl.MaxPages,
		PartialInterval: cfg.Crawl.PartialInterval,
		BlockThreshold:  cfg.Crawl.BlockThreshold,
	},
		fetcher,
		renderer,
		extract.New(clock, logger.Named("extract")),
		snapshot.New(logger.Named("snapshot")),
		clock,
		logger.Named("pipeline"),
	)
	return p, cleanup, nil
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ahenriksson/bowatch/internal/cache"
	"github.com/ahenriksson/bowatch/internal/clock/system"
	"github.com/ahenriksson/bowatch/internal/extract"
	"github.com/ahenriksson/bowatch/internal/pipeline"
	"github.com/ahenriksson/bowatch/internal/snapshot"
)

// newAssembleCmd creates the 'assemble' subcommand: rebuild a snapshot from
// the page cache alone, without any network traffic. Useful after an
// interrupted crawl, or to re-run extraction over already-fetched pages.
func newAssembleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assemble",
		Short: "Rebuilds a snapshot from cached pages without fetching",
		RunE:  runAssembleCommand,
	}
}

func runAssembleCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := a.cfg

	clock := system.New()
	cacheStore, err := cache.New(cfg.Cache.Dir, cfg.Cache.TTL(), clock, a.logger.Named("cache"))
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}

	p := pipeline.New(pipeline.Config{
		StartURLs:   cfg.Crawl.StartURLs,
		SnapshotDir: cfg.Snapshot.Dir,
	},
		nil,
		nil,
		extract.New(clock, a.logger.Named("extract")),
		snapshot.New(a.logger.Named("snapshot")),
		clock,
		a.logger.Named("pipeline"),
	)

	snap, err := p.Assemble(cacheStore)
	if err != nil {
		return fmt.Errorf("assemble snapshot: %w", err)
	}

	a.logger.Info("assemble finished",
		zap.Int("pages", snap.Meta.PagesCrawled),
		zap.Int("objects", len(snap.Objects)))
	return nil
}

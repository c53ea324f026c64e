// Package pipeline drives a full crawl: fetch search pages, resolve the
// embedded data graph, extract and merge listings, detect changes against
// the previous snapshot, and persist the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ahenriksson/bowatch/internal/diff"
	"github.com/ahenriksson/bowatch/internal/extract"
	"github.com/ahenriksson/bowatch/internal/fetch"
	"github.com/ahenriksson/bowatch/internal/graph"
	"github.com/ahenriksson/bowatch/internal/listing"
	"github.com/ahenriksson/bowatch/internal/merge"
	"github.com/ahenriksson/bowatch/internal/metrics"
	"github.com/ahenriksson/bowatch/internal/snapshot"
)

const (
	timestampLayout = "2006-01-02 15:04:05"
	fileStampLayout = "2006-01-02_150405"
)

// CacheReader lists every cached page, for offline snapshot assembly.
type CacheReader interface {
	Entries() ([]listing.RawPage, error)
}

// Config controls one crawl run.
type Config struct {
	StartURLs       []string
	SnapshotDir     string
	MaxPages        int
	PartialInterval int
	BlockThreshold  int
}

// Pipeline wires the fetcher, extractor and stores into a crawl loop.
type Pipeline struct {
	cfg       Config
	fetcher   listing.Fetcher
	renderer  listing.Renderer
	extractor *extract.Extractor
	store     listing.SnapshotStore
	clock     listing.Clock
	logger    *zap.Logger
}

// New constructs a Pipeline. The renderer may be nil when headless fallback
// is disabled.
func New(cfg Config, fetcher listing.Fetcher, renderer listing.Renderer, extractor *extract.Extractor, store listing.SnapshotStore, clock listing.Clock, logger *zap.Logger) *Pipeline {
	if cfg.BlockThreshold <= 0 {
		cfg.BlockThreshold = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:       cfg,
		fetcher:   fetcher,
		renderer:  renderer,
		extractor: extractor,
		store:     store,
		clock:     clock,
		logger:    logger,
	}
}

type workItem struct {
	url    string
	source string
}

type runState struct {
	records   []listing.Listing
	errors    []string
	pages     int
	cacheHits int
}

// Run executes the crawl and writes the final snapshot. Per-page failures
// are recorded in the snapshot's error list, never returned; only snapshot
// persistence failures and context cancellation abort the run.
func (p *Pipeline) Run(ctx context.Context) (*listing.Snapshot, error) {
	start := p.clock.Now()
	snapPath := filepath.Join(p.cfg.SnapshotDir, "snapshot_"+start.Format(fileStampLayout)+".json")

	queue := make([]workItem, 0, len(p.cfg.StartURLs))
	seen := make(map[string]struct{}, len(p.cfg.StartURLs))
	for _, u := range p.cfg.StartURLs {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		queue = append(queue, workItem{url: u, source: SourceLabel(u)})
	}

	state := &runState{}
	consecutiveForbidden := 0
	blocked := false

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("crawl canceled: %w", err)
		}
		if p.cfg.MaxPages > 0 && state.pages >= p.cfg.MaxPages {
			p.logger.Info("page limit reached", zap.Int("max_pages", p.cfg.MaxPages))
			break
		}

		item := queue[0]
		queue = queue[1:]
		metrics.SetQueueDepth(len(queue))
		state.pages++

		page, cached, err := p.fetcher.Fetch(ctx, item.url)
		if err != nil {
			state.errors = append(state.errors, fmt.Sprintf("%s: %v", item.url, err))
			p.logger.Warn("page fetch failed", zap.String("url", item.url), zap.Error(err))

			var fetchErr *fetch.Error
			if errors.As(err, &fetchErr) && fetchErr.StatusCode == 403 {
				consecutiveForbidden++
				if !blocked && consecutiveForbidden >= p.cfg.BlockThreshold {
					blocked = true
					p.logger.Warn("host appears to be blocking requests, no further pages will be enqueued",
						zap.Int("consecutive_forbidden", consecutiveForbidden))
				}
			} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("crawl canceled: %w", err)
			}
			continue
		}
		consecutiveForbidden = 0
		if cached {
			state.cacheHits++
		}

		html := p.renderIfNeeded(ctx, item.url, page.HTML)
		p.processPage(item, html, state)

		if !blocked {
			for _, next := range DiscoverPages(html) {
				if _, dup := seen[next]; dup {
					continue
				}
				seen[next] = struct{}{}
				queue = append(queue, workItem{url: next, source: item.source})
			}
			metrics.SetQueueDepth(len(queue))
		}

		if p.cfg.PartialInterval > 0 && state.pages%p.cfg.PartialInterval == 0 {
			if err := p.writePartial(snapPath, start, state); err != nil {
				return nil, err
			}
		}
	}

	return p.finish(snapPath, start, state)
}

// Assemble rebuilds a snapshot purely from the page cache, without touching
// the network. Useful after a crawl was interrupted or to re-run extraction
// with updated rules over yesterday's pages.
func (p *Pipeline) Assemble(cacheEntries CacheReader) (*listing.Snapshot, error) {
	start := p.clock.Now()
	snapPath := filepath.Join(p.cfg.SnapshotDir, "snapshot_"+start.Format(fileStampLayout)+".json")

	pages, err := cacheEntries.Entries()
	if err != nil {
		return nil, fmt.Errorf("list cached pages: %w", err)
	}

	state := &runState{}
	for _, page := range pages {
		state.pages++
		state.cacheHits++
		item := workItem{url: page.URL, source: SourceLabel(page.URL)}
		p.processPage(item, page.HTML, state)
	}

	return p.finish(snapPath, start, state)
}

// processPage parses the page's data graph and extracts every listing node.
// A page without a graph, or a node that fails extraction, is recorded and
// skipped without affecting its siblings.
func (p *Pipeline) processPage(item workItem, html string, state *runState) {
	g, err := graph.ParseNextData(html)
	if err != nil {
		state.errors = append(state.errors, fmt.Sprintf("%s: %v", item.url, err))
		p.logger.Warn("no data graph in page", zap.String("url", item.url), zap.Error(err))
		return
	}

	page := extract.NewPage(item.url, html)
	for _, key := range graph.ListingKeys(g) {
		node, ok := graph.ResolveNode(key, g)
		if !ok {
			continue
		}
		rec, err := p.extractor.Extract(node, page)
		if err != nil {
			metrics.ObserveRecord(metrics.RecordDropped)
			p.logger.Warn("listing extraction failed",
				zap.String("url", item.url),
				zap.String("node", key),
				zap.Error(err))
			continue
		}
		rec.SearchSource = item.source
		metrics.ObserveRecord(metrics.RecordExtracted)
		state.records = append(state.records, rec)
	}
}

// renderIfNeeded promotes the page to headless rendering when the server
// body lacks the embedded data graph and a renderer is available.
func (p *Pipeline) renderIfNeeded(ctx context.Context, url, html string) string {
	if graph.HasDataGraph(html) || p.renderer == nil {
		return html
	}
	rendered, err := p.renderer.Render(ctx, url)
	if err != nil {
		p.logger.Debug("headless render unavailable", zap.String("url", url), zap.Error(err))
		return html
	}
	p.logger.Info("page promoted to headless rendering", zap.String("url", url))
	return string(rendered)
}

// writePartial persists the in-progress state so a crash mid-crawl still
// leaves a loadable snapshot behind.
func (p *Pipeline) writePartial(path string, start time.Time, state *runState) error {
	snap := p.buildSnapshot(start, state, nil, nil)
	if err := p.store.Write(path, snap); err != nil {
		return fmt.Errorf("write partial snapshot: %w", err)
	}
	p.logger.Info("partial snapshot written",
		zap.Int("pages", state.pages),
		zap.Int("records", len(state.records)))
	return nil
}

// finish merges the collected records, diffs against the previous snapshot
// and writes the final one, carrying forward downstream rankings/groups.
func (p *Pipeline) finish(snapPath string, start time.Time, state *runState) (*listing.Snapshot, error) {
	prevPath, err := snapshot.Latest(p.cfg.SnapshotDir, snapPath)
	if err != nil {
		return nil, err
	}

	var prev *listing.Snapshot
	if prevPath != "" {
		prev, err = p.store.Load(prevPath)
		if err != nil {
			// A corrupt historical snapshot should not sink the run; every
			// current listing just shows up as new.
			p.logger.Warn("previous snapshot unreadable, diffing against empty baseline",
				zap.String("path", prevPath), zap.Error(err))
			prev = nil
		}
	}

	previous := map[string]listing.Listing{}
	if prev != nil {
		previous = prev.ByURL()
	}

	set := merge.Merge(state.records)
	changes := diff.Changes(set.ByURL(), previous)
	snap := p.buildSnapshot(start, state, set.Listings(), changes)
	if prev != nil {
		snap.Rankings = prev.Rankings
		snap.Groups = prev.Groups
	}
	merge.SortByPriceDiff(snap.Objects)

	if err := p.store.Write(snapPath, snap); err != nil {
		return nil, fmt.Errorf("write snapshot: %w", err)
	}

	p.logger.Info("crawl complete",
		zap.String("snapshot", snapPath),
		zap.Int("pages", state.pages),
		zap.Int("objects", len(snap.Objects)),
		zap.Int("changes", len(changes)),
		zap.Float64("cache_hit_ratio", snap.Meta.CacheHitRatio))
	return snap, nil
}

func (p *Pipeline) buildSnapshot(start time.Time, state *runState, objects []listing.Listing, changes []listing.ChangeEvent) *listing.Snapshot {
	if objects == nil {
		objects = merge.Merge(state.records).Listings()
	}
	ratio := 0.0
	if state.pages > 0 {
		ratio = float64(state.cacheHits) / float64(state.pages)
	}
	if changes == nil {
		changes = []listing.ChangeEvent{}
	}
	errs := state.errors
	if errs == nil {
		errs = []string{}
	}
	return &listing.Snapshot{
		Meta: listing.Meta{
			RunID:           uuid.NewString(),
			GeneratedAt:     p.clock.Now().Format(timestampLayout),
			CrawledAt:       start.Format(timestampLayout),
			InputFiles:      p.cfg.StartURLs,
			PagesCrawled:    state.pages,
			ObjectsAnalyzed: len(objects),
			CacheHitRatio:   ratio,
		},
		Objects: objects,
		Changes: changes,
		Errors:  errs,
	}
}

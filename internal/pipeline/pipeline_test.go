package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ahenriksson/bowatch/internal/extract"
	"github.com/ahenriksson/bowatch/internal/fetch"
	"github.com/ahenriksson/bowatch/internal/listing"
	"github.com/ahenriksson/bowatch/internal/snapshot"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fetchResult struct {
	page   listing.RawPage
	cached bool
	err    error
}

type fakeFetcher struct {
	mu      sync.Mutex
	results map[string]fetchResult
	calls   []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (listing.RawPage, bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()

	res, ok := f.results[url]
	if !ok {
		return listing.RawPage{}, false, &fetch.Error{URL: url, StatusCode: 404, Attempts: 1}
	}
	return res.page, res.cached, res.err
}

type countingStore struct {
	inner  listing.SnapshotStore
	writes int
}

func (s *countingStore) Load(path string) (*listing.Snapshot, error) { return s.inner.Load(path) }

func (s *countingStore) Write(path string, snap *listing.Snapshot) error {
	s.writes++
	return s.inner.Write(path, snap)
}

type staticCache struct{ pages []listing.RawPage }

func (c staticCache) Entries() ([]listing.RawPage, error) { return c.pages, nil }

func listingNode(id int, price float64) map[string]any {
	return map[string]any{
		"__typename":          "Listing",
		"booliId":             float64(id),
		"url":                 fmt.Sprintf("/bostad/%d", id),
		"listPrice":           price,
		"descriptiveAreaName": "Vasastan, Stockholm",
	}
}

func searchPage(nodes map[string]map[string]any, links ...string) string {
	state := make(map[string]any, len(nodes))
	for k, v := range nodes {
		state[k] = v
	}
	payload := map[string]any{
		"props": map[string]any{
			"pageProps": map[string]any{"__APOLLO_STATE__": state},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}

	var b strings.Builder
	b.WriteString("<html><body>")
	for _, link := range links {
		fmt.Fprintf(&b, `<a href="%s">nästa sida</a>`, link)
	}
	fmt.Fprintf(&b, `<script id="__NEXT_DATA__" type="application/json">%s</script>`, data)
	b.WriteString("</body></html>")
	return b.String()
}

func newTestPipeline(t *testing.T, cfg Config, fetcher listing.Fetcher, store listing.SnapshotStore) *Pipeline {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)}
	if store == nil {
		store = snapshot.New(zap.NewNop())
	}
	return New(cfg, fetcher, nil, extract.New(clk, zap.NewNop()), store, clk, zap.NewNop())
}

func TestRun_CrawlsDiscoveredPagesAndMerges(t *testing.T) {
	t.Parallel()

	start := "https://www.booli.se/sok/till-salu?areaIds=2"
	page2 := "https://www.booli.se/sok/till-salu?areaIds=2&page=2"

	fetcher := &fakeFetcher{results: map[string]fetchResult{
		start: {page: listing.RawPage{URL: start, Status: 200, HTML: searchPage(
			map[string]map[string]any{
				"Listing:1001": listingNode(1001, 2000000),
				"Listing:1002": listingNode(1002, 3000000),
			},
			"/sok/till-salu?areaIds=2&page=2",
		)}},
		page2: {page: listing.RawPage{URL: page2, Status: 200, HTML: searchPage(
			map[string]map[string]any{
				// Same listing seen again on the second page.
				"Listing:1001": listingNode(1001, 2000000),
			},
		)}, cached: true},
	}}

	p := newTestPipeline(t, Config{
		StartURLs:   []string{start},
		SnapshotDir: t.TempDir(),
	}, fetcher, nil)

	snap, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, fetcher.calls, 2)
	require.Equal(t, 2, snap.Meta.PagesCrawled)
	require.Equal(t, 0.5, snap.Meta.CacheHitRatio)
	require.NotEmpty(t, snap.Meta.RunID)
	require.Empty(t, snap.Errors)

	// 1001 appears on both pages but merges to one record.
	require.Len(t, snap.Objects, 2)
	byURL := snap.ByURL()
	rec, ok := byURL["https://www.booli.se/bostad/1001"]
	require.True(t, ok)
	require.Equal(t, "Stockholm", rec.SearchSource)
	require.Equal(t, "Vasastan", rec.Area)

	// Everything is new against an empty baseline.
	require.Len(t, snap.Changes, 2)
	for _, ch := range snap.Changes {
		require.Equal(t, listing.ChangeNew, ch.Type)
	}
}

func TestRun_FetchFailureIsIsolated(t *testing.T) {
	t.Parallel()

	good := "https://www.booli.se/sok/till-salu?areaIds=2"
	bad := "https://www.booli.se/sok/till-salu?areaIds=386699"

	fetcher := &fakeFetcher{results: map[string]fetchResult{
		good: {page: listing.RawPage{URL: good, Status: 200, HTML: searchPage(
			map[string]map[string]any{"Listing:1001": listingNode(1001, 2000000)},
		)}},
		bad: {err: &fetch.Error{URL: bad, StatusCode: 500, Attempts: 4}},
	}}

	p := newTestPipeline(t, Config{
		StartURLs:   []string{bad, good},
		SnapshotDir: t.TempDir(),
	}, fetcher, nil)

	snap, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Objects, 1)
	require.Len(t, snap.Errors, 1)
	require.Contains(t, snap.Errors[0], bad)
}

func TestRun_RepeatedForbiddenStopsEnqueuing(t *testing.T) {
	t.Parallel()

	blockedA := "https://www.booli.se/sok/till-salu?areaIds=2"
	blockedB := "https://www.booli.se/sok/till-salu?areaIds=386699"
	good := "https://www.booli.se/sok/till-salu?areaIds=2&floor=topFloor"

	forbidden := func(url string) fetchResult {
		return fetchResult{err: &fetch.Error{URL: url, StatusCode: 403, Attempts: 1}}
	}
	fetcher := &fakeFetcher{results: map[string]fetchResult{
		blockedA: forbidden(blockedA),
		blockedB: forbidden(blockedB),
		good: {page: listing.RawPage{URL: good, Status: 200, HTML: searchPage(
			map[string]map[string]any{"Listing:1001": listingNode(1001, 2000000)},
			"/sok/till-salu?areaIds=2&page=2",
		)}},
	}}

	p := newTestPipeline(t, Config{
		StartURLs:      []string{blockedA, blockedB, good},
		SnapshotDir:    t.TempDir(),
		BlockThreshold: 2,
	}, fetcher, nil)

	snap, err := p.Run(context.Background())
	require.NoError(t, err)

	// Queued start URLs are still flushed, but the page discovered on the
	// good page is never enqueued once the host looks blocked.
	require.Len(t, fetcher.calls, 3)
	require.NotContains(t, fetcher.calls, "https://www.booli.se/sok/till-salu?areaIds=2&page=2")
	require.Len(t, snap.Objects, 1)
	require.Len(t, snap.Errors, 2)
}

func TestRun_MaxPagesLimit(t *testing.T) {
	t.Parallel()

	start := "https://www.booli.se/sok/till-salu?areaIds=2"
	fetcher := &fakeFetcher{results: map[string]fetchResult{
		start: {page: listing.RawPage{URL: start, Status: 200, HTML: searchPage(
			map[string]map[string]any{"Listing:1001": listingNode(1001, 2000000)},
			"/sok/till-salu?areaIds=2&page=2",
			"/sok/till-salu?areaIds=2&page=3",
		)}},
	}}

	p := newTestPipeline(t, Config{
		StartURLs:   []string{start},
		SnapshotDir: t.TempDir(),
		MaxPages:    1,
	}, fetcher, nil)

	snap, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, fetcher.calls, 1)
	require.Equal(t, 1, snap.Meta.PagesCrawled)
}

func TestRun_PartialSnapshotsWritten(t *testing.T) {
	t.Parallel()

	start := "https://www.booli.se/sok/till-salu?areaIds=2"
	page2 := "https://www.booli.se/sok/till-salu?areaIds=2&page=2"
	fetcher := &fakeFetcher{results: map[string]fetchResult{
		start: {page: listing.RawPage{URL: start, Status: 200, HTML: searchPage(
			map[string]map[string]any{"Listing:1001": listingNode(1001, 2000000)},
			"/sok/till-salu?areaIds=2&page=2",
		)}},
		page2: {page: listing.RawPage{URL: page2, Status: 200, HTML: searchPage(
			map[string]map[string]any{"Listing:1002": listingNode(1002, 3000000)},
		)}},
	}}

	store := &countingStore{inner: snapshot.New(nil)}
	p := newTestPipeline(t, Config{
		StartURLs:       []string{start},
		SnapshotDir:     t.TempDir(),
		PartialInterval: 1,
	}, fetcher, store)

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	// One partial write per page plus the final write.
	require.Equal(t, 3, store.writes)
}

func TestRun_DiffsAgainstPreviousSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := snapshot.New(nil)
	gone := 9999.0
	rankings := json.RawMessage(`[{"url":"https://www.booli.se/bostad/1001","score":0.8}]`)
	require.NoError(t, store.Write(dir+"/snapshot_2026-08-28_100000.json", &listing.Snapshot{
		Objects: []listing.Listing{
			{URL: "https://www.booli.se/bostad/1001", ListPrice: &gone},
			{URL: "https://www.booli.se/bostad/8888"},
		},
		Rankings: rankings,
	}))

	start := "https://www.booli.se/sok/till-salu?areaIds=2"
	fetcher := &fakeFetcher{results: map[string]fetchResult{
		start: {page: listing.RawPage{URL: start, Status: 200, HTML: searchPage(
			map[string]map[string]any{"Listing:1001": listingNode(1001, 2000000)},
		)}},
	}}

	p := newTestPipeline(t, Config{StartURLs: []string{start}, SnapshotDir: dir}, fetcher, store)

	snap, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Changes, 2)
	kinds := map[listing.ChangeType]string{}
	for _, ch := range snap.Changes {
		kinds[ch.Type] = ch.URL
	}
	require.Equal(t, "https://www.booli.se/bostad/1001", kinds[listing.ChangePriceChanged])
	require.Equal(t, "https://www.booli.se/bostad/8888", kinds[listing.ChangeRemoved])

	// Downstream scoring output rides along untouched.
	require.JSONEq(t, string(rankings), string(snap.Rankings))
}

func TestRun_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPipeline(t, Config{
		StartURLs:   []string{"https://www.booli.se/sok/till-salu?areaIds=2"},
		SnapshotDir: t.TempDir(),
	}, &fakeFetcher{results: map[string]fetchResult{}}, nil)

	_, err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAssemble_RebuildsFromCacheWithoutNetwork(t *testing.T) {
	t.Parallel()

	uppsala := "https://www.booli.se/sok/till-salu?areaIds=386699&floor=topFloor"
	cache := staticCache{pages: []listing.RawPage{
		{URL: uppsala, Status: 200, HTML: searchPage(
			map[string]map[string]any{"Listing:1001": listingNode(1001, 2000000)},
		)},
	}}

	fetcher := &fakeFetcher{results: map[string]fetchResult{}}
	p := newTestPipeline(t, Config{
		StartURLs:   []string{uppsala},
		SnapshotDir: t.TempDir(),
	}, fetcher, nil)

	snap, err := p.Assemble(cache)
	require.NoError(t, err)
	require.Empty(t, fetcher.calls)
	require.Len(t, snap.Objects, 1)
	require.Equal(t, "Uppsala (top floor)", snap.Objects[0].SearchSource)
	require.Equal(t, 1.0, snap.Meta.CacheHitRatio)
}

package listing

import (
	"context"
	"time"
)

// CacheStore persists fetched pages keyed by URL.
type CacheStore interface {
	Get(url string) (RawPage, bool)
	Put(url string, page RawPage) error
}

// Fetcher retrieves a page, consulting the cache first. The second return
// reports whether the page came from cache.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (RawPage, bool, error)
}

// Renderer produces a fully rendered page body for URLs whose server
// response lacks the embedded data graph.
type Renderer interface {
	Render(ctx context.Context, url string) ([]byte, error)
}

// SnapshotStore reads and writes persisted run snapshots.
type SnapshotStore interface {
	Load(path string) (*Snapshot, error)
	Write(path string, snap *Snapshot) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

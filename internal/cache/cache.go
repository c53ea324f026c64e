// Package cache implements a file-backed page cache with a time-to-live.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ahenriksson/bowatch/internal/listing"
)

// DefaultTTL applies when the configured TTL is zero.
const DefaultTTL = 24 * time.Hour

// Store keeps one JSON file per fetched URL under a base directory. Keys
// are the SHA-256 hex of the URL so arbitrary URLs stay filesystem-safe.
type Store struct {
	baseDir string
	ttl     time.Duration
	clock   listing.Clock
	logger  *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New validates the base directory and returns a Store. An unwritable
// directory is a hard error: without a cache the run cannot proceed.
func New(baseDir string, ttl time.Duration, clock listing.Clock, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("cache base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", baseDir, err)
	}
	probe := filepath.Join(baseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return nil, fmt.Errorf("cache dir %s is not writable: %w", baseDir, err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		baseDir: baseDir,
		ttl:     ttl,
		clock:   clock,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// Get returns the cached page for url if present and younger than the TTL.
// Any read or decode failure counts as a miss, never as an error.
func (s *Store) Get(url string) (listing.RawPage, bool) {
	path := s.path(url)
	data, err := os.ReadFile(path)
	if err != nil {
		return listing.RawPage{}, false
	}
	var page listing.RawPage
	if err := json.Unmarshal(data, &page); err != nil {
		s.logger.Warn("discarding corrupt cache entry", zap.String("path", path), zap.Error(err))
		return listing.RawPage{}, false
	}
	if s.clock.Now().Sub(page.FetchedAt) >= s.ttl {
		return listing.RawPage{}, false
	}
	return page, true
}

// Put writes the page, silently replacing any stale entry for the same URL.
// Writes are serialized per cache key so concurrent fetches of one URL
// cannot interleave.
func (s *Store) Put(url string, page listing.RawPage) error {
	key := Key(url)
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	path := filepath.Join(s.baseDir, key+".json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write cache entry %s: %w", path, err)
	}
	return nil
}

// Entries returns the cached pages currently on disk, regardless of age.
// Used by offline snapshot assembly.
func (s *Store) Entries() ([]listing.RawPage, error) {
	matches, err := filepath.Glob(filepath.Join(s.baseDir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list cache dir: %w", err)
	}
	pages := make([]listing.RawPage, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("skipping unreadable cache entry", zap.String("path", path), zap.Error(err))
			continue
		}
		var page listing.RawPage
		if err := json.Unmarshal(data, &page); err != nil {
			s.logger.Warn("skipping corrupt cache entry", zap.String("path", path), zap.Error(err))
			continue
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func (s *Store) path(url string) string {
	return filepath.Join(s.baseDir, Key(url)+".json")
}

func (s *Store) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// Key returns the filesystem-safe cache key for a URL.
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

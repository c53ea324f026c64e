// Package snapshot persists run snapshots as JSON on the local filesystem.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ahenriksson/bowatch/internal/listing"
)

// Store reads and writes snapshot files. Writes go through a temp file and
// rename so a crash mid-write never leaves a truncated snapshot behind.
type Store struct {
	logger *zap.Logger
}

// New creates a snapshot store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{logger: logger}
}

// Load reads and decodes a snapshot file.
func (s *Store) Load(path string) (*listing.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap listing.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", path, err)
	}
	return &snap, nil
}

// Write encodes the snapshot and atomically replaces the file at path.
func (s *Store) Write(path string, snap *listing.Snapshot) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("snapshot path is required")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	s.logger.Debug("snapshot written",
		zap.String("path", path),
		zap.Int("objects", len(snap.Objects)))
	return nil
}

// Latest returns the newest snapshot file in dir, skipping the file named by
// exclude (usually the snapshot currently being written). Snapshot files are
// named with sortable timestamps, so lexical order is chronological order.
// Returns an empty string when no prior snapshot exists.
func Latest(dir, exclude string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to list snapshot directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		if exclude != "" && name == filepath.Base(exclude) {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return "", nil
	}

	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1]), nil
}

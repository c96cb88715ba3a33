// Package checkpoint persists per-URL crawl outcomes so interrupted runs can
// resume without reprocessing finished work.
//
// Every mutation rewrites the whole state to a temporary file in the target
// directory and atomically renames it over the durable path. The durable file
// is therefore always either the prior valid state or the new valid state,
// never a torn hybrid, regardless of where a crash lands.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quarrydata/marketplace-crawler/internal/crawl"
)

// State is the durable checkpoint document.
type State struct {
	Processed []string       `json:"processedUrls"`
	Failed    []string       `json:"failedUrls"`
	Stats     map[string]any `json:"stats"`
	Timestamp time.Time      `json:"timestamp"`
}

// Store is a file-backed checkpoint. One orchestrator run is the sole
// writer; reads and writes are serialized by the store's mutex, and the
// in-memory copy is authoritative between Load and process exit.
type Store struct {
	path   string
	clock  crawl.Clock
	logger *zap.Logger

	mu        sync.Mutex
	processed map[string]struct{}
	failed    map[string]struct{}
	stats     map[string]any
}

// New builds a Store persisting to path. Nothing is read until Load.
func New(path string, clock crawl.Clock, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:      path,
		clock:     clock,
		logger:    logger,
		processed: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
		stats:     make(map[string]any),
	}
}

// Load reads the durable state into memory and returns a snapshot of it.
// A missing file is an empty state, not an error. A URL listed on both sides
// of a hand-edited file is kept on the failed side only.
func (s *Store) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("no checkpoint file, starting fresh", zap.String("path", s.path))
			return s.snapshotLocked(), nil
		}
		return State{}, fmt.Errorf("read checkpoint %s: %w", s.path, err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("parse checkpoint %s: %w", s.path, err)
	}

	s.processed = make(map[string]struct{}, len(state.Processed))
	s.failed = make(map[string]struct{}, len(state.Failed))
	for _, url := range state.Processed {
		s.processed[url] = struct{}{}
	}
	for _, url := range state.Failed {
		if _, dup := s.processed[url]; dup {
			s.logger.Warn("checkpoint lists url as both processed and failed, keeping failed",
				zap.String("url", url))
			delete(s.processed, url)
		}
		s.failed[url] = struct{}{}
	}
	s.stats = state.Stats
	if s.stats == nil {
		s.stats = make(map[string]any)
	}
	s.logger.Info("checkpoint loaded",
		zap.String("path", s.path),
		zap.Int("processed", len(s.processed)),
		zap.Int("failed", len(s.failed)),
	)
	return s.snapshotLocked(), nil
}

// MarkSucceeded records a durably processed URL, removing any prior failure
// mark, and persists the whole state before returning.
func (s *Store) MarkSucceeded(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failed, url)
	s.processed[url] = struct{}{}
	return s.persistLocked()
}

// MarkFailed records a terminally failed URL, removing any prior success
// mark, and persists the whole state before returning.
func (s *Store) MarkFailed(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processed, url)
	s.failed[url] = struct{}{}
	return s.persistLocked()
}

// Contains reports whether the URL has been durably processed either way.
func (s *Store) Contains(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[url]; ok {
		return true
	}
	_, ok := s.failed[url]
	return ok
}

// Succeeded reports whether the URL is checkpointed as processed.
func (s *Store) Succeeded(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[url]
	return ok
}

// Failed reports whether the URL is checkpointed as failed.
func (s *Store) Failed(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.failed[url]
	return ok
}

// FailedURLs returns a sorted snapshot of the failed set.
func (s *Store) FailedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.failed)
}

// SetStats replaces the last-run stats object and persists.
func (s *Store) SetStats(stats map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = stats
	return s.persistLocked()
}

func (s *Store) snapshotLocked() State {
	return State{
		Processed: sortedKeys(s.processed),
		Failed:    sortedKeys(s.failed),
		Stats:     s.stats,
		Timestamp: s.clock.Now().UTC().Truncate(time.Second),
	}
}

// persistLocked writes the current state to a temp file in the checkpoint's
// directory and renames it over the durable path. Callers hold s.mu.
func (s *Store) persistLocked() error {
	state := s.snapshotLocked()
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint temp file %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync checkpoint temp file %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint temp file %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace checkpoint %s: %w", s.path, err)
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

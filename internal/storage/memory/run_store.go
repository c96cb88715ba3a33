package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quarrydata/marketplace-crawler/internal/store"
)

// RunStore provides an in-memory store.RunRepository for development and
// tests.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[uuid.UUID]store.RunRecord
	kinds map[uuid.UUID]map[string]store.KindStats
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:  make(map[uuid.UUID]store.RunRecord),
		kinds: make(map[uuid.UUID]map[string]store.KindStats),
	}
}

// StartRun records a new run in running status. Starting an existing run is
// a no-op so replayed progress events stay harmless.
func (s *RunStore) StartRun(_ context.Context, runID uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[runID]; exists {
		return nil
	}
	s.runs[runID] = store.RunRecord{
		RunID:     runID,
		StartedAt: startedAt.UTC(),
		Status:    store.RunRunning,
	}
	return nil
}

// CompleteRun marks a run finished with its terminal status and counters.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	counts store.RunCounts,
	note *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.Status = status
	run.Counts = counts
	run.FinishedAt = pointerTime(finishedAt.UTC())
	if note != nil {
		text := *note
		run.Note = &text
	}
	s.runs[runID] = run
	return nil
}

// UpsertKindStats folds outcome deltas into the per-kind aggregate.
func (s *RunStore) UpsertKindStats(
	_ context.Context,
	runID uuid.UUID,
	kind string,
	deltaSucceeded, deltaFailed int64,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKind, ok := s.kinds[runID]
	if !ok {
		byKind = make(map[string]store.KindStats)
		s.kinds[runID] = byKind
	}
	stats, ok := byKind[kind]
	if !ok {
		stats = store.KindStats{RunID: runID, Kind: kind}
	}
	stats.Succeeded += deltaSucceeded
	stats.Failed += deltaFailed
	if at.After(stats.LastUpdate) {
		stats.LastUpdate = at.UTC()
	}
	byKind[kind] = stats
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.RunRecord{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest-first, optionally filtered by status. A
// non-positive limit means unlimited.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]store.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if offset >= len(runs) {
		return []store.RunRecord{}, nil
	}
	runs = runs[offset:]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}

// ListRunKinds returns per-kind aggregates for one run, sorted by kind.
func (s *RunStore) ListRunKinds(_ context.Context, runID uuid.UUID) ([]store.KindStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byKind := s.kinds[runID]
	out := make([]store.KindStats, 0, len(byKind))
	for _, stats := range byKind {
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

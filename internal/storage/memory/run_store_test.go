package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quarrydata/marketplace-crawler/internal/store"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	runs := NewRunStore()
	ctx := context.Background()
	runID := uuid.New()
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := runs.StartRun(ctx, runID, started); err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	// Replayed start events are a no-op, not an error.
	if err := runs.StartRun(ctx, runID, started.Add(time.Hour)); err != nil {
		t.Fatalf("StartRun() replay error = %v", err)
	}

	live, err := runs.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if live.Status != store.RunRunning || !live.StartedAt.Equal(started) || live.FinishedAt != nil {
		t.Fatalf("unexpected live run %+v", live)
	}

	note := "spot check"
	counts := store.RunCounts{Discovered: 10, Attempted: 9, Succeeded: 7, Failed: 2}
	finished := started.Add(3 * time.Minute)
	if err := runs.CompleteRun(ctx, runID, finished, store.RunCompleted, counts, &note); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	final, err := runs.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun() after complete error = %v", err)
	}
	if final.Status != store.RunCompleted || final.FinishedAt == nil || !final.FinishedAt.Equal(finished) {
		t.Fatalf("expected completed run with finish time, got %+v", final)
	}
	if final.Counts != counts || final.Note == nil || *final.Note != note {
		t.Fatalf("expected counters and note to persist, got %+v", final)
	}
}

func TestRunStoreUnknownRun(t *testing.T) {
	t.Parallel()

	runs := NewRunStore()
	ctx := context.Background()
	missing := uuid.New()

	if _, err := runs.GetRun(ctx, missing); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetRun() error = %v, want ErrNotFound", err)
	}
	err := runs.CompleteRun(ctx, missing, time.Now(), store.RunFailed, store.RunCounts{}, nil)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("CompleteRun() error = %v, want ErrNotFound", err)
	}
}

func TestRunStoreListFiltersAndPages(t *testing.T) {
	t.Parallel()

	runs := NewRunStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	ids := make([]uuid.UUID, 4)
	for i := range ids {
		ids[i] = uuid.New()
		if err := runs.StartRun(ctx, ids[i], base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("StartRun(%d) error = %v", i, err)
		}
	}
	// Complete the two oldest; the two newest stay running.
	for _, id := range ids[:2] {
		err := runs.CompleteRun(ctx, id, base.Add(5*time.Hour), store.RunCompleted, store.RunCounts{}, nil)
		if err != nil {
			t.Fatalf("CompleteRun() error = %v", err)
		}
	}

	all, err := runs.ListRuns(ctx, nil, 0, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 runs, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].StartedAt.After(all[i-1].StartedAt) {
			t.Fatalf("expected newest-first ordering, got %v before %v", all[i-1].StartedAt, all[i].StartedAt)
		}
	}

	running := store.RunRunning
	live, err := runs.ListRuns(ctx, &running, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns(running) error = %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("expected 2 running runs, got %d", len(live))
	}

	page, err := runs.ListRuns(ctx, nil, 2, 1)
	if err != nil {
		t.Fatalf("ListRuns(page) error = %v", err)
	}
	if len(page) != 2 || !page[0].StartedAt.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("unexpected page %+v", page)
	}

	empty, err := runs.ListRuns(ctx, nil, 2, 10)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty page, got %v err=%v", empty, err)
	}
}

func TestRunStoreKindStatsAggregation(t *testing.T) {
	t.Parallel()

	runs := NewRunStore()
	ctx := context.Background()
	runID := uuid.New()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := runs.UpsertKindStats(ctx, runID, "listing", 3, 1, base); err != nil {
		t.Fatalf("UpsertKindStats() error = %v", err)
	}
	if err := runs.UpsertKindStats(ctx, runID, "listing", 2, 0, base.Add(time.Minute)); err != nil {
		t.Fatalf("UpsertKindStats() second error = %v", err)
	}
	// An out-of-order delta must not move LastUpdate backwards.
	if err := runs.UpsertKindStats(ctx, runID, "listing", 1, 0, base.Add(-time.Minute)); err != nil {
		t.Fatalf("UpsertKindStats() stale error = %v", err)
	}
	if err := runs.UpsertKindStats(ctx, runID, "profile", 0, 2, base); err != nil {
		t.Fatalf("UpsertKindStats(profile) error = %v", err)
	}

	kinds, err := runs.ListRunKinds(ctx, runID)
	if err != nil {
		t.Fatalf("ListRunKinds() error = %v", err)
	}
	if len(kinds) != 2 {
		t.Fatalf("expected 2 kinds, got %d", len(kinds))
	}
	if kinds[0].Kind != "listing" || kinds[1].Kind != "profile" {
		t.Fatalf("expected sorted kinds, got %+v", kinds)
	}
	listing := kinds[0]
	if listing.Succeeded != 6 || listing.Failed != 1 {
		t.Fatalf("unexpected listing aggregate %+v", listing)
	}
	if !listing.LastUpdate.Equal(base.Add(time.Minute)) {
		t.Fatalf("expected LastUpdate %v, got %v", base.Add(time.Minute), listing.LastUpdate)
	}
}

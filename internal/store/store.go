// Package store declares interfaces for persisting crawl run history.
// Implementations live elsewhere; this package must not import database
// drivers or concrete clients.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCanceled  RunStatus = "canceled"
	RunFailed    RunStatus = "failed"
)

// RunCounts carries the aggregate counters stored with a finished run.
type RunCounts struct {
	Discovered int64
	Attempted  int64
	Succeeded  int64
	Failed     int64
	Retried    int64
	Skipped    int64
	Canceled   int64
}

// RunRecord models one crawl_runs row for API responses.
type RunRecord struct {
	// RunID is the crawl identifier shared with records and checkpoints.
	RunID uuid.UUID
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run completes.
	FinishedAt *time.Time
	// Status is running/completed/canceled/failed.
	Status RunStatus
	// Counts holds the final counters; zero while the run is live.
	Counts RunCounts
	// Note optionally stores the terminal failure reason.
	Note *string
}

// KindStats aggregates item outcomes per entity kind within one run.
type KindStats struct {
	RunID      uuid.UUID
	Kind       string
	Succeeded  int64
	Failed     int64
	LastUpdate time.Time
}

// RunRepository persists run lifecycle and per-kind aggregates.
type RunRepository interface {
	// StartRun inserts (or idempotently refreshes) the running row.
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// CompleteRun marks the run finished with its status and final counters.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, counts RunCounts, note *string) error
	// UpsertKindStats applies outcome deltas per (run, kind).
	UpsertKindStats(ctx context.Context, runID uuid.UUID, kind string, deltaSucceeded, deltaFailed int64, at time.Time) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (RunRecord, error)
	// ListRuns returns runs filtered by optional status, newest first.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]RunRecord, error)
	// ListRunKinds returns per-kind aggregates for one run.
	ListRunKinds(ctx context.Context, runID uuid.UUID) ([]KindStats, error)
}

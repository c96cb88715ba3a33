package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarrydata/marketplace-crawler/internal/store"
)

type runPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository on Postgres.
type RunStore struct {
	pool runPool
}

// NewRunStore creates a new RunStore connected to the given DSN.
func NewRunStore(ctx context.Context, dsn string) (*RunStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: pool}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool runPool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StartRun inserts the running row. Replayed start events hit the conflict
// clause and leave the original row untouched.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO crawl_runs (run_id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished with its terminal status and counters.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	counts store.RunCounts,
	note *string,
) error {
	query := `
		UPDATE crawl_runs
		SET finished_at = $1,
			status = $2,
			discovered = $3,
			attempted = $4,
			succeeded = $5,
			failed = $6,
			retried = $7,
			skipped = $8,
			canceled = $9,
			note = $10
		WHERE run_id = $11;
	`
	tag, err := s.pool.Exec(
		ctx,
		query,
		finishedAt,
		status,
		counts.Discovered,
		counts.Attempted,
		counts.Succeeded,
		counts.Failed,
		counts.Retried,
		counts.Skipped,
		counts.Canceled,
		note,
		runID,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpsertKindStats folds outcome deltas into the per-kind aggregate row.
// Update first; when no row exists yet, insert the deltas as the baseline.
func (s *RunStore) UpsertKindStats(
	ctx context.Context,
	runID uuid.UUID,
	kind string,
	deltaSucceeded, deltaFailed int64,
	at time.Time,
) error {
	query := `
		UPDATE run_kind_stats
		SET succeeded = succeeded + $1,
			failed = failed + $2,
			last_update = GREATEST(last_update, $3)
		WHERE run_id = $4 AND kind = $5;
	`
	res, err := s.pool.Exec(ctx, query, deltaSucceeded, deltaFailed, at, runID, kind)
	if err != nil {
		return fmt.Errorf("update kind stats: %w", err)
	}
	if res.RowsAffected() == 0 {
		query = `
			INSERT INTO run_kind_stats (run_id, kind, succeeded, failed, last_update)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (run_id, kind) DO NOTHING;
		`
		_, err = s.pool.Exec(ctx, query, runID, kind, deltaSucceeded, deltaFailed, at)
		if err != nil {
			return fmt.Errorf("insert kind stats: %w", err)
		}
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.RunRecord, error) {
	query := `
		SELECT run_id, started_at, finished_at, status,
			discovered, attempted, succeeded, failed, retried, skipped, canceled, note
		FROM crawl_runs
		WHERE run_id = $1;
	`
	var run store.RunRecord
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.RunID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.Counts.Discovered,
		&run.Counts.Attempted,
		&run.Counts.Succeeded,
		&run.Counts.Failed,
		&run.Counts.Retried,
		&run.Counts.Skipped,
		&run.Counts.Canceled,
		&run.Note,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.RunRecord{}, store.ErrNotFound
		}
		return store.RunRecord{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest-first, with optional status filtering.
func (s *RunStore) ListRuns(
	ctx context.Context,
	status *store.RunStatus,
	limit,
	offset int,
) ([]store.RunRecord, error) {
	query := `
		SELECT run_id, started_at, finished_at, status,
			discovered, attempted, succeeded, failed, retried, skipped, canceled, note
		FROM crawl_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.RunRecord
	for rows.Next() {
		var run store.RunRecord
		err := rows.Scan(
			&run.RunID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.Counts.Discovered,
			&run.Counts.Attempted,
			&run.Counts.Succeeded,
			&run.Counts.Failed,
			&run.Counts.Retried,
			&run.Counts.Skipped,
			&run.Counts.Canceled,
			&run.Note,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// ListRunKinds retrieves per-kind aggregates for a given run.
func (s *RunStore) ListRunKinds(ctx context.Context, runID uuid.UUID) ([]store.KindStats, error) {
	query := `
		SELECT run_id, kind, succeeded, failed, last_update
		FROM run_kind_stats
		WHERE run_id = $1
		ORDER BY kind;
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list run kinds: %w", err)
	}
	defer rows.Close()

	var stats []store.KindStats
	for rows.Next() {
		var stat store.KindStats
		err := rows.Scan(
			&stat.RunID,
			&stat.Kind,
			&stat.Succeeded,
			&stat.Failed,
			&stat.LastUpdate,
		)
		if err != nil {
			return nil, fmt.Errorf("scan kind stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run kinds: %w", err)
	}
	return stats, nil
}

package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quarrydata/marketplace-crawler/internal/progress"
	"github.com/quarrydata/marketplace-crawler/internal/store"
)

// StoreSink persists run lifecycle and per-kind outcome deltas via a
// store.RunRepository. Item outcomes within one batch are collapsed per
// (run, kind) to reduce write amplification.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards lifecycle events and collapsed kind deltas to the
// repository. It respects ctx deadlines and returns repository errors
// verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[deltaKey]*kindDelta)

	for _, evt := range batch {
		runID, err := uuid.Parse(evt.RunID)
		if err != nil {
			s.logger.Debug("skipping event with unparseable run id",
				zap.String("run_id", evt.RunID), zap.Error(err))
			continue
		}
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, runID, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageRunDone:
			if err := s.completeRun(ctx, runID, evt); err != nil {
				return err
			}
		case progress.StageItemDone:
			recordDelta(deltas, runID, evt)
		}
	}

	for key, delta := range deltas {
		if delta.succeeded == 0 && delta.failed == 0 {
			continue
		}
		if err := s.repo.UpsertKindStats(
			ctx,
			key.runID,
			key.kind,
			delta.succeeded,
			delta.failed,
			delta.at,
		); err != nil {
			return fmt.Errorf("upsert kind stats: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) completeRun(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	status := store.RunCompleted
	switch evt.Outcome {
	case progress.OutcomeCanceled:
		status = store.RunCanceled
	case progress.OutcomeFailed:
		status = store.RunFailed
	}
	var counts store.RunCounts
	if sum := evt.Summary; sum != nil {
		counts = store.RunCounts{
			Discovered: sum.Discovered,
			Attempted:  sum.Attempted,
			Succeeded:  sum.Succeeded,
			Failed:     sum.Failed,
			Retried:    sum.Retried,
			Skipped:    sum.Skipped,
			Canceled:   sum.Canceled,
		}
	}
	var note *string
	if evt.Note != "" {
		note = &evt.Note
	}
	if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, counts, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

func recordDelta(deltas map[deltaKey]*kindDelta, runID uuid.UUID, evt progress.Event) {
	if evt.Kind == "" {
		return
	}
	key := deltaKey{runID: runID, kind: string(evt.Kind)}
	delta := deltas[key]
	if delta == nil {
		delta = &kindDelta{}
		deltas[key] = delta
	}
	switch evt.Outcome {
	case progress.OutcomeSucceeded:
		delta.succeeded++
	case progress.OutcomeFailed:
		delta.failed++
	}
	if evt.TS.After(delta.at) {
		delta.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type deltaKey struct {
	runID uuid.UUID
	kind  string
}

type kindDelta struct {
	succeeded int64
	failed    int64
	at        time.Time
}

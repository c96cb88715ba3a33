// Package progress defines the event structures emitted by the crawl workers.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/quarrydata/marketplace-crawler/internal/crawl"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageRunDone   Stage = "RUN_DONE"
	StageItemStart Stage = "ITEM_START"
	StageItemDone  Stage = "ITEM_DONE"
	StageRetry     Stage = "RETRY"
)

// Outcome is the terminal result of one item, or of a whole run.
type Outcome string

// Item and run outcomes.
const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeCanceled  Outcome = "canceled"
	OutcomeCompleted Outcome = "completed"
)

// Event captures a single milestone of crawler progress.
type Event struct {
	// RunID identifies the crawl run in its string UUID form.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or item milestone occurred.
	Stage Stage
	// URL is the item URL for item-scoped stages; it should not contain
	// credentials.
	URL string
	// Kind classifies the item for item-scoped stages.
	Kind crawl.EntityKind
	// Outcome is required for ITEM_DONE and labels RUN_DONE.
	Outcome Outcome
	// Failure attributes a failed item to its error category.
	Failure crawl.FailureKind
	// Attempts counts the fetch attempts the item consumed.
	Attempts int
	// Bytes carries the response body size for completed items.
	Bytes int64
	// Dur captures elapsed time for items and whole runs.
	Dur time.Duration
	// Rendered marks items that went through headless promotion.
	Rendered bool
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
	// Summary accompanies RUN_DONE with the final counters.
	Summary *crawl.RunSummary
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart:
	case StageRunDone:
		if e.Summary == nil {
			return errors.New("run done requires a summary")
		}
	case StageItemStart, StageRetry:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", string(e.Stage))
		}
	case StageItemDone:
		if e.URL == "" {
			return errors.New("item done requires url")
		}
		if e.Outcome == "" {
			return errors.New("item done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Package orchestrator drives a crawl run: it admits work against the
// checkpoint, fans items out to a worker pool, and walks each item through
// fetch, optional headless promotion, extraction, persistence and
// checkpointing.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quarrydata/marketplace-crawler/internal/checkpoint"
	"github.com/quarrydata/marketplace-crawler/internal/crawl"
	"github.com/quarrydata/marketplace-crawler/internal/fetch"
	"github.com/quarrydata/marketplace-crawler/internal/logging"
	"github.com/quarrydata/marketplace-crawler/internal/progress"
	"github.com/quarrydata/marketplace-crawler/internal/queue/memory"
	"github.com/quarrydata/marketplace-crawler/internal/storage"
)

const (
	defaultWorkers      = 5
	defaultPersistGrace = 15 * time.Second
)

// Config controls run behavior.
type Config struct {
	// Workers bounds concurrent in-flight items; it doubles as the request
	// concurrency cap because each worker holds at most one fetch.
	Workers int
	// QueueCapacity sizes the admission buffer. Zero means Workers.
	QueueCapacity int
	// MaxPages caps how many items a run admits. Zero means unlimited.
	MaxPages int
	// RetryFailed admits URLs the checkpoint recorded as failed.
	RetryFailed bool
	// Headless enables detector-driven promotion to the renderer.
	Headless bool
	// PublishTopic names the topic persisted records are announced on.
	// Empty disables publishing.
	PublishTopic string
	// PersistGrace bounds how long post-fetch work may continue after the
	// run context is canceled. Zero means 15s.
	PersistGrace time.Duration
}

// Checkpointer is the durable run-ledger surface the orchestrator needs.
// checkpoint.Store and checkpoint.Disabled both satisfy it.
type Checkpointer interface {
	Load() (checkpoint.State, error)
	MarkSucceeded(url string) error
	MarkFailed(url string) error
	Succeeded(url string) bool
	Failed(url string) bool
	SetStats(stats map[string]any) error
}

// Orchestrator executes crawl runs over a fixed pipeline.
type Orchestrator struct {
	cfg         Config
	fetcher     crawl.Fetcher
	renderer    crawl.Renderer
	detector    crawl.Detector
	extractor   crawl.Extractor
	records     crawl.RecordStore
	archiver    *storage.Archiver
	publisher   crawl.Publisher
	checkpoints Checkpointer
	emitter     progress.Emitter
	ids         crawl.IDGenerator
	clock       crawl.Clock
	logger      *zap.Logger
}

// New constructs an Orchestrator. Fetcher, extractor, record store, ID
// generator and clock are required; renderer, detector, archiver and
// publisher may be nil to disable their stage. A nil checkpointer runs
// without resume state and a nil emitter discards progress.
func New(
	cfg Config,
	fetcher crawl.Fetcher,
	renderer crawl.Renderer,
	detector crawl.Detector,
	extractor crawl.Extractor,
	records crawl.RecordStore,
	archiver *storage.Archiver,
	publisher crawl.Publisher,
	checkpoints Checkpointer,
	emitter progress.Emitter,
	ids crawl.IDGenerator,
	clock crawl.Clock,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = cfg.Workers
	}
	if cfg.PersistGrace <= 0 {
		cfg.PersistGrace = defaultPersistGrace
	}
	if checkpoints == nil {
		checkpoints = checkpoint.Disabled{}
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:         cfg,
		fetcher:     fetcher,
		renderer:    renderer,
		detector:    detector,
		extractor:   extractor,
		records:     records,
		archiver:    archiver,
		publisher:   publisher,
		checkpoints: checkpoints,
		emitter:     emitter,
		ids:         ids,
		clock:       clock,
		logger:      logger,
	}
}

// Run crawls the discovered items and blocks until every admitted item has
// settled. The returned summary is valid even when Run reports an error;
// a non-nil error means the run aborted because checkpoint state could not
// be written.
//
// Canceling ctx stops admission and fails fetches promptly. Items already
// past their fetch finish persistence under a bounded grace window, while
// items canceled mid-fetch count as canceled and stay out of the
// checkpoint so the next run picks them up again.
func (o *Orchestrator) Run(ctx context.Context, items []crawl.WorkItem) (crawl.RunSummary, error) {
	runID, err := o.ids.NewID()
	if err != nil {
		return crawl.RunSummary{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := logging.WithRun(o.logger, runID)
	startedAt := o.clock.Now().UTC()

	if _, err := o.checkpoints.Load(); err != nil {
		return crawl.RunSummary{}, fmt.Errorf("load checkpoint: %w", err)
	}
	admitted, skipped := o.admit(items)

	counters := &crawl.Counters{}
	counters.Skipped.Add(int64(skipped))

	logger.Info("run starting",
		zap.Int("discovered", len(items)),
		zap.Int("admitted", len(admitted)),
		zap.Int("skipped", skipped),
		zap.Int("workers", o.cfg.Workers),
	)
	o.emitter.Emit(progress.Event{RunID: runID, TS: startedAt, Stage: progress.StageRunStart})

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// The first checkpoint write failure wins and tears the run down.
	var (
		abortOnce sync.Once
		abortErr  error
	)
	abort := func(err error) {
		abortOnce.Do(func() {
			abortErr = err
			cancelRun()
		})
	}

	queue := crawl.Queue(memory.NewQueue(o.cfg.QueueCapacity))
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.drain(runCtx, runID, queue, counters, abort, logger)
		}()
	}
	go func() {
		defer queue.Close()
		for _, item := range admitted {
			if err := queue.Enqueue(runCtx, item); err != nil {
				return
			}
		}
	}()
	wg.Wait()

	finishedAt := o.clock.Now().UTC()
	summary := counters.Summarize()
	summary.RunID = runID
	summary.Discovered = int64(len(items))
	summary.StartedAt = startedAt
	summary.FinishedAt = finishedAt
	summary.Duration = finishedAt.Sub(startedAt)

	outcome := progress.OutcomeCompleted
	runErr := abortErr
	switch {
	case runErr != nil:
		outcome = progress.OutcomeFailed
	case ctx.Err() != nil:
		outcome = progress.OutcomeCanceled
	}
	if runErr == nil {
		if err := o.checkpoints.SetStats(summary.StatsMap()); err != nil {
			outcome = progress.OutcomeFailed
			runErr = fmt.Errorf("store run stats: %w", err)
		}
	}
	note := ""
	if runErr != nil {
		note = runErr.Error()
	}
	o.emitter.Emit(progress.Event{
		RunID:   runID,
		TS:      finishedAt,
		Stage:   progress.StageRunDone,
		Outcome: outcome,
		Dur:     summary.Duration,
		Note:    note,
		Summary: &summary,
	})
	logger.Info("run finished",
		zap.String("outcome", string(outcome)),
		zap.Int64("succeeded", summary.Succeeded),
		zap.Int64("failed", summary.Failed),
		zap.Int64("retried", summary.Retried),
		zap.Int64("canceled", summary.Canceled),
		zap.Duration("duration", summary.Duration),
	)
	return summary, runErr
}

// admit filters the discovered items against checkpoint state and the page
// cap, returning the work to enqueue and how many items were skipped.
func (o *Orchestrator) admit(items []crawl.WorkItem) ([]crawl.WorkItem, int) {
	admitted := make([]crawl.WorkItem, 0, len(items))
	skipped := 0
	for _, item := range items {
		switch {
		case o.checkpoints.Succeeded(item.URL):
			skipped++
		case o.checkpoints.Failed(item.URL) && !o.cfg.RetryFailed:
			skipped++
		case o.cfg.MaxPages > 0 && len(admitted) >= o.cfg.MaxPages:
			skipped++
		default:
			admitted = append(admitted, item)
		}
	}
	return admitted, skipped
}

func (o *Orchestrator) drain(
	ctx context.Context,
	runID string,
	queue crawl.Queue,
	counters *crawl.Counters,
	abort func(error),
	logger *zap.Logger,
) {
	for {
		item, err := queue.Dequeue(ctx)
		if err != nil {
			return
		}
		if err := o.processItem(ctx, runID, item, counters, logger); err != nil {
			logger.Error("aborting run", zap.String("url", item.URL), zap.Error(err))
			abort(err)
			return
		}
	}
}

// processItem walks one item through the pipeline. The returned error is
// nil unless checkpoint state could not be written, which aborts the run.
func (o *Orchestrator) processItem(
	ctx context.Context,
	runID string,
	item crawl.WorkItem,
	counters *crawl.Counters,
	logger *zap.Logger,
) error {
	counters.Attempted.Add(1)
	start := o.clock.Now()
	o.emitter.Emit(progress.Event{
		RunID: runID,
		TS:    start.UTC(),
		Stage: progress.StageItemStart,
		URL:   item.URL,
		Kind:  item.Kind,
	})

	page, err := o.fetcher.Fetch(ctx, item.URL)
	o.noteRetries(runID, item, page.Attempts, counters)
	if err != nil {
		if ctx.Err() != nil {
			counters.Canceled.Add(1)
			now := o.clock.Now()
			o.emitter.Emit(progress.Event{
				RunID:    runID,
				TS:       now.UTC(),
				Stage:    progress.StageItemDone,
				URL:      item.URL,
				Kind:     item.Kind,
				Outcome:  progress.OutcomeCanceled,
				Attempts: page.Attempts,
				Dur:      now.Sub(start),
			})
			return nil
		}
		logger.Warn("fetch failed",
			zap.String("url", item.URL),
			zap.Int("attempts", page.Attempts),
			zap.Error(err),
		)
		return o.failItem(runID, item, page, fetch.FailureKind(err), err, counters, start)
	}

	page = o.maybeRender(ctx, item, page, logger)

	// Once the body is in hand the remaining steps run to completion even
	// if the run is canceled, bounded by the grace window.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PersistGrace)
	defer cancel()

	record := o.extractor.Extract(persistCtx, page, item)
	if record == nil {
		logger.Warn("extraction produced no record",
			zap.String("url", item.URL),
			zap.String("kind", string(item.Kind)),
		)
		o.archive(persistCtx, runID, item, page, true)
		return o.failItem(runID, item, page, crawl.FailureExtraction, nil, counters, start)
	}

	record.RunID = runID
	if record.ID == "" {
		id, err := o.ids.NewID()
		if err != nil {
			logger.Error("generate record id failed", zap.String("url", item.URL), zap.Error(err))
			return o.failItem(runID, item, page, crawl.FailureTransient, err, counters, start)
		}
		record.ID = id
	}
	if err := o.records.Persist(persistCtx, record); err != nil {
		logger.Error("persist record failed", zap.String("url", item.URL), zap.Error(err))
		o.archive(persistCtx, runID, item, page, true)
		return o.failItem(runID, item, page, crawl.FailureTransient, err, counters, start)
	}

	o.archive(persistCtx, runID, item, page, false)
	o.publish(persistCtx, record, logger)

	// Checkpoint mutation happens strictly after the record is durable.
	if err := o.checkpoints.MarkSucceeded(item.URL); err != nil {
		return fmt.Errorf("checkpoint success for %s: %w", item.URL, err)
	}
	counters.Succeeded.Add(1)
	now := o.clock.Now()
	o.emitter.Emit(progress.Event{
		RunID:    runID,
		TS:       now.UTC(),
		Stage:    progress.StageItemDone,
		URL:      item.URL,
		Kind:     item.Kind,
		Outcome:  progress.OutcomeSucceeded,
		Attempts: page.Attempts,
		Bytes:    int64(len(page.Body)),
		Dur:      now.Sub(start),
		Rendered: page.Rendered,
	})
	return nil
}

// failItem records a settled failure: checkpoint first, then counters and
// the progress event. Only a checkpoint write error propagates.
func (o *Orchestrator) failItem(
	runID string,
	item crawl.WorkItem,
	page crawl.Page,
	kind crawl.FailureKind,
	cause error,
	counters *crawl.Counters,
	start time.Time,
) error {
	if err := o.checkpoints.MarkFailed(item.URL); err != nil {
		return fmt.Errorf("checkpoint failure for %s: %w", item.URL, err)
	}
	counters.Failed.Add(1)
	note := ""
	if cause != nil {
		note = cause.Error()
	}
	now := o.clock.Now()
	o.emitter.Emit(progress.Event{
		RunID:    runID,
		TS:       now.UTC(),
		Stage:    progress.StageItemDone,
		URL:      item.URL,
		Kind:     item.Kind,
		Outcome:  progress.OutcomeFailed,
		Failure:  kind,
		Attempts: page.Attempts,
		Dur:      now.Sub(start),
		Rendered: page.Rendered,
		Note:     note,
	})
	return nil
}

// noteRetries surfaces the retries a fetch chain consumed as a counter
// bump and one RETRY event carrying the total attempt count.
func (o *Orchestrator) noteRetries(runID string, item crawl.WorkItem, attempts int, counters *crawl.Counters) {
	if attempts <= 1 {
		return
	}
	counters.Retried.Add(int64(attempts - 1))
	o.emitter.Emit(progress.Event{
		RunID:    runID,
		TS:       o.clock.Now().UTC(),
		Stage:    progress.StageRetry,
		URL:      item.URL,
		Kind:     item.Kind,
		Attempts: attempts,
	})
}

// maybeRender promotes the page through the headless renderer when the
// detector asks for it. Render errors fall back to the probe response.
func (o *Orchestrator) maybeRender(
	ctx context.Context,
	item crawl.WorkItem,
	page crawl.Page,
	logger *zap.Logger,
) crawl.Page {
	if !o.cfg.Headless || o.detector == nil || o.renderer == nil {
		return page
	}
	if !o.detector.ShouldRender(page) {
		return page
	}
	rendered, err := o.renderer.Render(ctx, item.URL)
	if err != nil {
		logger.Warn("headless render failed, keeping probe response",
			zap.String("url", item.URL), zap.Error(err))
		return page
	}
	// Attempt accounting stays with the probe chain.
	rendered.Attempts = page.Attempts
	return rendered
}

func (o *Orchestrator) archive(ctx context.Context, runID string, item crawl.WorkItem, page crawl.Page, failed bool) {
	if o.archiver == nil {
		return
	}
	o.archiver.Archive(ctx, runID, item, page, failed)
}

func (o *Orchestrator) publish(ctx context.Context, record *crawl.Record, logger *zap.Logger) {
	if o.publisher == nil || o.cfg.PublishTopic == "" {
		return
	}
	if _, err := o.publisher.Publish(ctx, o.cfg.PublishTopic, record); err != nil {
		logger.Warn("publish record failed", zap.String("url", record.URL), zap.Error(err))
	}
}

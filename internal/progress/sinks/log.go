package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/quarrydata/marketplace-crawler/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields. Run
// summaries get their counters inlined so a single line tells the story.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageItemStart, progress.StageItemDone, progress.StageRetry:
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.String("kind", string(evt.Kind)),
				zap.String("outcome", string(evt.Outcome)),
				zap.String("failure", string(evt.Failure)),
				zap.Int("attempts", evt.Attempts),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
				zap.Bool("rendered", evt.Rendered),
			)
		case progress.StageRunDone:
			if sum := evt.Summary; sum != nil {
				fields = append(fields,
					zap.Int64("discovered", sum.Discovered),
					zap.Int64("attempted", sum.Attempted),
					zap.Int64("succeeded", sum.Succeeded),
					zap.Int64("failed", sum.Failed),
					zap.Int64("retried", sum.Retried),
					zap.Int64("skipped", sum.Skipped),
					zap.Int64("canceled", sum.Canceled),
					zap.Duration("dur", evt.Dur),
				)
			}
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

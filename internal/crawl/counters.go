package crawl

import "sync/atomic"

// Counters accumulates run-wide totals across workers. The retry counter is
// derived from per-page attempt counts; the rest advance as items settle.
type Counters struct {
	Attempted atomic.Int64
	Succeeded atomic.Int64
	Failed    atomic.Int64
	Retried   atomic.Int64
	Skipped   atomic.Int64
	Canceled  atomic.Int64
}

// Summarize snapshots the counters into a RunSummary shell. Identity and
// timing fields are filled in by the orchestrator.
func (c *Counters) Summarize() RunSummary {
	return RunSummary{
		Attempted: c.Attempted.Load(),
		Succeeded: c.Succeeded.Load(),
		Failed:    c.Failed.Load(),
		Retried:   c.Retried.Load(),
		Skipped:   c.Skipped.Load(),
		Canceled:  c.Canceled.Load(),
	}
}

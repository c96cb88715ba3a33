// Package crawl defines core types shared across the pipeline subsystems.
package crawl

import (
	"net/http"
	"time"

	"github.com/quarrydata/marketplace-crawler/internal/normalize"
)

// EntityKind classifies a marketplace URL. The set is closed: help pages are
// recognized during sitemap classification but never become work items.
type EntityKind string

// Entity kinds produced by the sitemap classifier.
const (
	KindListing  EntityKind = "listing"
	KindProfile  EntityKind = "profile"
	KindCategory EntityKind = "category"
)

// WorkItem is one URL awaiting processing. Immutable once produced by the
// sitemap indexer.
type WorkItem struct {
	URL  string     `json:"url"`
	Kind EntityKind `json:"kind"`
}

// Page is the result of fetching one URL.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Attempts   int
	Duration   time.Duration
	Rendered   bool
	FetchedAt  time.Time
}

// ContentType returns the response content type header, if any.
func (p Page) ContentType() string {
	if p.Headers == nil {
		return ""
	}
	return p.Headers.Get("Content-Type")
}

// Record is the structured unit extracted from one page. The URL is the
// identity key: persisting the same URL twice overwrites, never duplicates.
// Normalized fields keep their raw text even when no value was derived.
type Record struct {
	ID          string              `json:"id"`
	RunID       string              `json:"run_id"`
	URL         string              `json:"url"`
	Kind        EntityKind          `json:"kind"`
	Title       string              `json:"title"`
	Author      string              `json:"author,omitempty"`
	AuthorURL   string              `json:"author_url,omitempty"`
	Category    string              `json:"category,omitempty"`
	Views       normalize.Quantity  `json:"views"`
	Downloads   normalize.Quantity  `json:"downloads"`
	Assets      normalize.Quantity  `json:"assets"`
	Published   normalize.Timestamp `json:"published"`
	ContentHash string              `json:"content_hash,omitempty"`
	FetchedAt   time.Time           `json:"fetched_at"`
}

// FailureKind labels an item-level failure for metrics attribution.
type FailureKind string

// Failure kinds reported in progress events and logs.
const (
	FailureNone       FailureKind = ""
	FailureTransient  FailureKind = "transient"
	FailureClient     FailureKind = "client"
	FailureExtraction FailureKind = "extraction"
)

// RunSummary aggregates one orchestrator run. Canceled counts items whose
// processing was cut short by run cancellation; they are left unmarked in
// the checkpoint so a later run picks them up again.
type RunSummary struct {
	RunID      string        `json:"run_id"`
	Discovered int64         `json:"discovered"`
	Attempted  int64         `json:"attempted"`
	Succeeded  int64         `json:"succeeded"`
	Failed     int64         `json:"failed"`
	Retried    int64         `json:"retried"`
	Skipped    int64         `json:"skipped"`
	Canceled   int64         `json:"canceled"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

// StatsMap renders the summary as the loosely-typed stats object stored in
// the checkpoint file.
func (s RunSummary) StatsMap() map[string]any {
	return map[string]any{
		"run_id":     s.RunID,
		"discovered": s.Discovered,
		"attempted":  s.Attempted,
		"succeeded":  s.Succeeded,
		"failed":     s.Failed,
		"retried":    s.Retried,
		"skipped":    s.Skipped,
		"canceled":   s.Canceled,
		"duration":   s.Duration.String(),
	}
}

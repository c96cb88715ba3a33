// Package extract parses fetched pages into structured records.
//
// Extraction is an ordered strategy list over one parsed document: schema.org
// JSON-LD blocks first, OpenGraph meta tags second, configured CSS selectors
// last. The first strategy that yields a record wins. Every strategy is total:
// malformed markup produces a nil record, never a panic or an error, and a nil
// record from the whole list marks the item failed upstream.
package extract

import (
	"bytes"
	"context"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/quarrydata/marketplace-crawler/internal/crawl"
	"github.com/quarrydata/marketplace-crawler/internal/normalize"
)

// strategy reads one parsed document. The reference instant anchors
// relative-date text found in the page.
type strategy interface {
	name() string
	extract(doc *goquery.Document, page crawl.Page, item crawl.WorkItem, now time.Time) *crawl.Record
}

// Config carries the tunable parts of extraction. Zero value uses the
// built-in selector sets.
type Config struct {
	Selectors map[crawl.EntityKind]SelectorSet
}

// Extractor implements crawl.Extractor over the strategy list.
type Extractor struct {
	strategies []strategy
	hasher     crawl.Hasher
	clock      crawl.Clock
	logger     *zap.Logger
}

// New builds the extractor. The hasher fingerprints page bodies; the clock
// anchors relative dates when a page carries no fetch timestamp.
func New(cfg Config, hasher crawl.Hasher, clock crawl.Clock, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		strategies: []strategy{
			&jsonLDStrategy{},
			&openGraphStrategy{},
			newDOMStrategy(cfg.Selectors),
		},
		hasher: hasher,
		clock:  clock,
		logger: logger,
	}
}

// Extract parses the page into a record, or nil when no strategy recognizes
// the markup. The record leaves ID and RunID blank; identity is stamped by
// the orchestrator.
func (e *Extractor) Extract(_ context.Context, page crawl.Page, item crawl.WorkItem) *crawl.Record {
	if len(page.Body) == 0 {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		e.logger.Debug("page did not parse as HTML",
			zap.String("url", item.URL), zap.Error(err))
		return nil
	}

	now := page.FetchedAt
	if now.IsZero() {
		now = e.clock.Now()
	}
	now = now.UTC()

	for _, s := range e.strategies {
		record := s.extract(doc, page, item, now)
		if record == nil {
			continue
		}
		e.stamp(record, page, item)
		e.logger.Debug("record extracted",
			zap.String("url", item.URL),
			zap.String("kind", string(item.Kind)),
			zap.String("strategy", s.name()),
		)
		return record
	}
	return nil
}

// stamp fills the fields every strategy shares: identity URL, kind, fetch
// time and the body fingerprint.
func (e *Extractor) stamp(record *crawl.Record, page crawl.Page, item crawl.WorkItem) {
	record.URL = item.URL
	record.Kind = item.Kind
	record.FetchedAt = page.FetchedAt
	if record.FetchedAt.IsZero() {
		record.FetchedAt = e.clock.Now().UTC()
	}
	hash, err := e.hasher.Hash(page.Body)
	if err != nil {
		e.logger.Warn("content hash failed", zap.String("url", item.URL), zap.Error(err))
		return
	}
	record.ContentHash = hash
}

// Layouts tried for absolute dates found in structured data, most specific
// first.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
}

// parseWhen normalizes date text: absolute layouts first, then the
// relative-date rules. Unrecognized text keeps Raw with Valid=false.
func parseWhen(raw string, now time.Time) normalize.Timestamp {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return normalize.Timestamp{Raw: raw, Value: t.UTC().Truncate(time.Second), Valid: true}
		}
	}
	return normalize.ParseRelativeTime(raw, now)
}

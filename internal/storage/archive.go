// Package storage archives raw page snapshots through pluggable blob stores.
// The archive is an audit trail: extraction bugs can be replayed against the
// exact bytes a run saw, so saving is best-effort and never fails a crawl.
package storage

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/quarrydata/marketplace-crawler/internal/crawl"
)

// Mode selects which pages get archived.
type Mode string

// Archive modes.
const (
	ModeOff      Mode = "off"
	ModeFailures Mode = "failures"
	ModeAll      Mode = "all"
)

// ParseMode validates a configured archive mode. Empty means off.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeOff:
		return ModeOff, nil
	case ModeFailures:
		return ModeFailures, nil
	case ModeAll:
		return ModeAll, nil
	default:
		return ModeOff, fmt.Errorf("unknown archive mode %q", raw)
	}
}

// Archiver writes page snapshots under run-scoped keys.
type Archiver struct {
	blobs  crawl.BlobStore
	hasher crawl.Hasher
	mode   Mode
	logger *zap.Logger
}

// NewArchiver builds an Archiver. A nil blob store or ModeOff disables it.
func NewArchiver(blobs crawl.BlobStore, hasher crawl.Hasher, mode Mode, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{blobs: blobs, hasher: hasher, mode: mode, logger: logger}
}

// Archive saves the page body when the mode covers this outcome. It returns
// the blob location and whether anything was written; save errors are logged
// and reported as not-archived.
func (a *Archiver) Archive(ctx context.Context, runID string, item crawl.WorkItem, page crawl.Page, failed bool) (string, bool) {
	if a == nil || a.blobs == nil || len(page.Body) == 0 {
		return "", false
	}
	switch a.mode {
	case ModeAll:
	case ModeFailures:
		if !failed {
			return "", false
		}
	default:
		return "", false
	}

	key := a.objectKey(runID, item)
	contentType := page.ContentType()
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	location, err := a.blobs.Save(ctx, key, contentType, page.Body)
	if err != nil {
		a.logger.Warn("page archive failed",
			zap.String("url", item.URL), zap.String("key", key), zap.Error(err))
		return "", false
	}
	a.logger.Debug("page archived",
		zap.String("url", item.URL), zap.String("location", location))
	return location, true
}

// objectKey derives a stable key from the item URL so re-runs overwrite the
// same object instead of piling up copies.
func (a *Archiver) objectKey(runID string, item crawl.WorkItem) string {
	digest, err := a.hasher.Hash([]byte(item.URL))
	if err != nil || digest == "" {
		digest = sanitizeURL(item.URL)
	} else if len(digest) > 16 {
		digest = digest[:16]
	}
	kind := string(item.Kind)
	if kind == "" {
		kind = "page"
	}
	return fmt.Sprintf("%s/%s/%s.html", runID, kind, digest)
}

func sanitizeURL(raw string) string {
	replacer := strings.NewReplacer("://", "_", "/", "_", "?", "_", "&", "_", "#", "_")
	return replacer.Replace(raw)
}

package crawl

import (
	"context"
	"errors"
	"time"
)

// ErrQueueClosed is returned by Dequeue once a queue is closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// Fetcher retrieves one URL, honoring pacing and retry policy internally.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Renderer performs a headless browser fetch for pages that need JS.
type Renderer interface {
	Render(ctx context.Context, url string) (Page, error)
	Close(ctx context.Context) error
}

// Detector decides whether a fetched page warrants headless promotion.
type Detector interface {
	ShouldRender(page Page) bool
}

// Extractor parses a page into a structured record. A nil record signals
// "unparseable"; implementations never panic on malformed input.
type Extractor interface {
	Extract(ctx context.Context, page Page, item WorkItem) *Record
}

// RecordStore persists extracted records. Persist is idempotent by URL.
type RecordStore interface {
	Persist(ctx context.Context, record *Record) error
	Close() error
}

// BlobStore archives raw artifacts and returns their location.
type BlobStore interface {
	Save(ctx context.Context, key string, contentType string, data []byte) (string, error)
}

// Publisher pushes persisted-record events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue feeds admitted work items to the orchestrator's worker pool.
type Queue interface {
	Enqueue(ctx context.Context, item WorkItem) error
	Dequeue(ctx context.Context) (WorkItem, error)
	Close()
}

// Hasher computes digests for content fingerprinting.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (injectable for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

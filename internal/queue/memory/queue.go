// Package memory provides the bounded in-process work queue feeding the
// orchestrator's worker pool.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/quarrydata/marketplace-crawler/internal/crawl"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = crawl.ErrQueueClosed

// Queue is a bounded in-memory queue with context-aware operations. Its
// capacity is the crawl's admission gate: producers block once it fills.
type Queue struct {
	ch      chan crawl.WorkItem
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan crawl.WorkItem, capacity),
	}
}

// Enqueue pushes a work item into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item crawl.WorkItem) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next work item, respecting context cancellation. After
// Close, remaining buffered items are still delivered before ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (crawl.WorkItem, error) {
	select {
	case <-ctx.Done():
		return crawl.WorkItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return crawl.WorkItem{}, ErrClosed
		}
		return item, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}

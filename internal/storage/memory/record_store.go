package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/quarrydata/marketplace-crawler/internal/crawl"
)

// RecordStore keeps extracted records in-memory, keyed by URL. Persisting
// the same URL twice overwrites the record but keeps the original ID, the
// same behavior the Postgres store gets from its conflict clause.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]crawl.Record
	order   []string
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]crawl.Record)}
}

// Persist stores the record, upserting by URL.
func (s *RecordStore) Persist(_ context.Context, record *crawl.Record) error {
	if record == nil {
		return errors.New("record is required")
	}
	if record.URL == "" {
		return errors.New("record url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *record
	if prev, exists := s.records[record.URL]; exists {
		stored.ID = prev.ID
	} else {
		s.order = append(s.order, record.URL)
	}
	s.records[record.URL] = stored
	return nil
}

// Close releases nothing; it exists to satisfy crawl.RecordStore.
func (s *RecordStore) Close() error {
	return nil
}

// Get returns the stored record for a URL.
func (s *RecordStore) Get(url string) (crawl.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[url]
	return record, ok
}

// List returns all stored records in first-persisted order.
func (s *RecordStore) List() []crawl.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawl.Record, 0, len(s.order))
	for _, url := range s.order {
		out = append(out, s.records[url])
	}
	return out
}

package memory

import (
	"context"
	"testing"

	"github.com/quarrydata/marketplace-crawler/internal/crawl"
)

func TestRecordStoreUpsertsByURL(t *testing.T) {
	t.Parallel()

	records := NewRecordStore()
	ctx := context.Background()

	first := &crawl.Record{ID: "id-1", URL: "https://example.com/photo/1", Title: "Forest"}
	if err := records.Persist(ctx, first); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	second := &crawl.Record{ID: "id-2", URL: "https://example.com/photo/1", Title: "Forest, retitled"}
	if err := records.Persist(ctx, second); err != nil {
		t.Fatalf("Persist() second error = %v", err)
	}

	stored, ok := records.Get("https://example.com/photo/1")
	if !ok {
		t.Fatal("expected record to exist")
	}
	if stored.Title != "Forest, retitled" {
		t.Fatalf("expected overwrite to win, got title %q", stored.Title)
	}
	if stored.ID != "id-1" {
		t.Fatalf("expected original ID to survive overwrite, got %q", stored.ID)
	}
	if len(records.List()) != 1 {
		t.Fatalf("expected one record, got %d", len(records.List()))
	}
}

func TestRecordStoreListKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	records := NewRecordStore()
	ctx := context.Background()
	urls := []string{
		"https://example.com/photo/a",
		"https://example.com/photo/b",
		"https://example.com/photo/c",
	}
	for i, url := range urls {
		record := &crawl.Record{ID: string(rune('1' + i)), URL: url}
		if err := records.Persist(ctx, record); err != nil {
			t.Fatalf("Persist(%s) error = %v", url, err)
		}
	}
	// Re-persisting the first URL must not move it to the back.
	if err := records.Persist(ctx, &crawl.Record{ID: "x", URL: urls[0]}); err != nil {
		t.Fatalf("Persist() overwrite error = %v", err)
	}

	listed := records.List()
	if len(listed) != len(urls) {
		t.Fatalf("expected %d records, got %d", len(urls), len(listed))
	}
	for i, url := range urls {
		if listed[i].URL != url {
			t.Fatalf("position %d: expected %s, got %s", i, url, listed[i].URL)
		}
	}
}

func TestRecordStoreRejectsInvalidRecords(t *testing.T) {
	t.Parallel()

	records := NewRecordStore()
	ctx := context.Background()
	if err := records.Persist(ctx, nil); err == nil {
		t.Fatal("expected error for nil record")
	}
	if err := records.Persist(ctx, &crawl.Record{ID: "id-1"}); err == nil {
		t.Fatal("expected error for missing URL")
	}
	if err := records.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

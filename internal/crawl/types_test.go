package crawl

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCountersSummarizeUnderConcurrency(t *testing.T) {
	t.Parallel()

	var counters Counters
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				counters.Attempted.Add(1)
				counters.Succeeded.Add(1)
			}
			counters.Retried.Add(2)
		}()
	}
	wg.Wait()

	summary := counters.Summarize()
	require.Equal(t, int64(800), summary.Attempted)
	require.Equal(t, int64(800), summary.Succeeded)
	require.Equal(t, int64(16), summary.Retried)
	require.Zero(t, summary.Failed)
	require.Zero(t, summary.Canceled)
}

func TestPageContentType(t *testing.T) {
	t.Parallel()

	require.Empty(t, Page{}.ContentType())

	page := Page{Headers: http.Header{}}
	page.Headers.Set("Content-Type", "text/html; charset=utf-8")
	require.Equal(t, "text/html; charset=utf-8", page.ContentType())
}

func TestRunSummaryStatsMap(t *testing.T) {
	t.Parallel()

	summary := RunSummary{
		RunID:      "run-1",
		Discovered: 10,
		Attempted:  9,
		Succeeded:  7,
		Failed:     2,
		Retried:    3,
		Skipped:    1,
		Canceled:   0,
		Duration:   90 * time.Second,
	}
	stats := summary.StatsMap()
	require.Equal(t, "run-1", stats["run_id"])
	require.Equal(t, int64(10), stats["discovered"])
	require.Equal(t, int64(7), stats["succeeded"])
	require.Equal(t, "1m30s", stats["duration"], "duration is stored human-readable")
	require.NotContains(t, stats, "started_at", "timing instants stay out of the checkpoint stats")
}

package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crawl_checkpoint.json")
	clock := fixedClock{now: time.Date(2025, 3, 15, 12, 30, 45, 0, time.UTC)}
	return New(path, clock, zap.NewNop()), path
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	t.Parallel()

	store, path := newTestStore(t)
	state, err := store.Load()
	require.NoError(t, err)
	require.Empty(t, state.Processed)
	require.Empty(t, state.Failed)
	require.False(t, store.Contains("https://example.com/vector/a"))

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err), "load alone must not create the file")
}

func TestMarkSucceededSurvivesRestart(t *testing.T) {
	t.Parallel()

	store, path := newTestStore(t)
	_, err := store.Load()
	require.NoError(t, err)
	require.NoError(t, store.MarkSucceeded("https://example.com/vector/a"))
	require.NoError(t, store.MarkSucceeded("https://example.com/vector/b"))
	require.NoError(t, store.MarkFailed("https://example.com/vector/c"))

	reopened := New(path, fixedClock{now: time.Now()}, zap.NewNop())
	state, err := reopened.Load()
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/vector/a", "https://example.com/vector/b"}, state.Processed)
	require.Equal(t, []string{"https://example.com/vector/c"}, state.Failed)
	require.True(t, reopened.Succeeded("https://example.com/vector/a"))
	require.True(t, reopened.Failed("https://example.com/vector/c"))
}

func TestSuccessAndFailureAreMutuallyExclusive(t *testing.T) {
	t.Parallel()

	store, path := newTestStore(t)
	_, err := store.Load()
	require.NoError(t, err)

	const url = "https://example.com/photo/flaky"
	require.NoError(t, store.MarkFailed(url))
	require.NoError(t, store.MarkSucceeded(url))
	require.True(t, store.Succeeded(url))
	require.False(t, store.Failed(url))

	require.NoError(t, store.MarkFailed(url))
	require.True(t, store.Failed(url))
	require.False(t, store.Succeeded(url))
	require.True(t, store.Contains(url))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk State
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	require.NotContains(t, onDisk.Processed, url)
	require.Contains(t, onDisk.Failed, url)
}

func TestFileUsesStableFieldNames(t *testing.T) {
	t.Parallel()

	store, path := newTestStore(t)
	_, err := store.Load()
	require.NoError(t, err)
	require.NoError(t, store.MarkSucceeded("https://example.com/icon/x"))
	require.NoError(t, store.SetStats(map[string]any{"run_id": "r-1", "succeeded": 1}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Contains(t, doc, "processedUrls")
	require.Contains(t, doc, "failedUrls")
	require.Contains(t, doc, "stats")
	require.Contains(t, doc, "timestamp")

	var stamp string
	require.NoError(t, json.Unmarshal(doc["timestamp"], &stamp))
	parsed, err := time.Parse(time.RFC3339, stamp)
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 3, 15, 12, 30, 45, 0, time.UTC), parsed)
}

func TestStrayTempFileDoesNotCorruptState(t *testing.T) {
	t.Parallel()

	store, path := newTestStore(t)
	_, err := store.Load()
	require.NoError(t, err)
	require.NoError(t, store.MarkSucceeded("https://example.com/vector/a"))

	// A crash between temp write and rename leaves a temp file behind. The
	// durable path must still be the last fully written state.
	stray := filepath.Join(filepath.Dir(path), ".checkpoint-1234.tmp")
	require.NoError(t, os.WriteFile(stray, []byte("{half written"), 0o600))

	reopened := New(path, fixedClock{now: time.Now()}, zap.NewNop())
	state, err := reopened.Load()
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/vector/a"}, state.Processed)
}

func TestLoadCorruptFileErrors(t *testing.T) {
	t.Parallel()

	store, path := newTestStore(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := store.Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse checkpoint")
}

func TestLoadConflictingEntryKeepsFailedSide(t *testing.T) {
	t.Parallel()

	store, path := newTestStore(t)
	doc := State{
		Processed: []string{"https://example.com/vector/dup"},
		Failed:    []string{"https://example.com/vector/dup"},
		Timestamp: time.Now().UTC(),
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	state, err := store.Load()
	require.NoError(t, err)
	require.Empty(t, state.Processed)
	require.Equal(t, []string{"https://example.com/vector/dup"}, state.Failed)
	require.True(t, store.Failed("https://example.com/vector/dup"))
	require.False(t, store.Succeeded("https://example.com/vector/dup"))
}

func TestPersistFailureSurfacesToCaller(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "no-such-dir", "crawl_checkpoint.json")
	store := New(missing, fixedClock{now: time.Now()}, zap.NewNop())
	_, err := store.Load()
	require.NoError(t, err)

	err = store.MarkSucceeded("https://example.com/vector/a")
	require.Error(t, err)
	require.Contains(t, err.Error(), "checkpoint temp file")
}

func TestSetStatsRoundTrip(t *testing.T) {
	t.Parallel()

	store, path := newTestStore(t)
	_, err := store.Load()
	require.NoError(t, err)
	require.NoError(t, store.SetStats(map[string]any{
		"run_id":    "r-42",
		"succeeded": 7,
		"failed":    1,
	}))

	reopened := New(path, fixedClock{now: time.Now()}, zap.NewNop())
	state, err := reopened.Load()
	require.NoError(t, err)
	require.Equal(t, "r-42", state.Stats["run_id"])
	require.EqualValues(t, 7, state.Stats["succeeded"])
	require.EqualValues(t, 1, state.Stats["failed"])
}

func TestFailedURLsReturnsSortedSnapshot(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	_, err := store.Load()
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed("https://example.com/c"))
	require.NoError(t, store.MarkFailed("https://example.com/a"))
	require.NoError(t, store.MarkFailed("https://example.com/b"))

	require.Equal(t, []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}, store.FailedURLs())
}

func TestDisabledNeverTouchesDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var cp Disabled
	state, err := cp.Load()
	require.NoError(t, err)
	require.Empty(t, state.Processed)
	require.NoError(t, cp.MarkSucceeded("https://example.com/vector/a"))
	require.NoError(t, cp.MarkFailed("https://example.com/vector/b"))
	require.NoError(t, cp.SetStats(map[string]any{"succeeded": 1}))
	require.False(t, cp.Contains("https://example.com/vector/a"))
	require.Empty(t, cp.FailedURLs())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

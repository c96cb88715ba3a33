package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	memstore "github.com/quarrydata/marketplace-crawler/internal/storage/memory"
	"github.com/quarrydata/marketplace-crawler/internal/store"
)

func TestServerHealthz(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(memstore.NewRunStore(), nil, zap.NewNop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServerReadyzProbesRunStore(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(memstore.NewRunStore(), nil, zap.NewNop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	broken, err := NewServer(&mockRunRepo{err: errors.New("connection refused")}, nil, zap.NewNop())
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	broken.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerMetricsRoute(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	srv, err := NewServer(memstore.NewRunStore(), registry, zap.NewNop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServerWithoutRegistryHasNoMetricsRoute(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(memstore.NewRunStore(), nil, zap.NewNop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerListRunsEndpoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memstore.NewRunStore()
	older := uuid.New()
	newer := uuid.New()
	base := time.Now().Add(-2 * time.Hour)
	require.NoError(t, repo.StartRun(ctx, older, base))
	require.NoError(t, repo.CompleteRun(
		ctx,
		older,
		base.Add(30*time.Minute),
		store.RunCompleted,
		store.RunCounts{Discovered: 20, Attempted: 12, Succeeded: 11, Failed: 1},
		nil,
	))
	require.NoError(t, repo.StartRun(ctx, newer, base.Add(time.Hour)))

	srv, err := NewServer(repo, nil, zap.NewNop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs []struct {
			RunID  string `json:"run_id"`
			Status string `json:"status"`
			Counts struct {
				Succeeded int64 `json:"succeeded"`
			} `json:"counts"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
	require.Equal(t, newer.String(), body.Runs[0].RunID, "runs list newest first")
	require.Equal(t, older.String(), body.Runs[1].RunID)
	require.EqualValues(t, 11, body.Runs[1].Counts.Succeeded)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs?status=running", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	require.Equal(t, newer.String(), body.Runs[0].RunID)
}

func TestServerGetRunEndpoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memstore.NewRunStore()
	runID := uuid.New()
	require.NoError(t, repo.StartRun(ctx, runID, time.Now().Add(-time.Hour)))

	srv, err := NewServer(repo, nil, zap.NewNop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+runID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), runID.String())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerRunKindsEndpoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memstore.NewRunStore()
	runID := uuid.New()
	require.NoError(t, repo.StartRun(ctx, runID, time.Now().Add(-time.Hour)))
	require.NoError(t, repo.UpsertKindStats(ctx, runID, "listing", 6, 1, time.Now()))

	srv, err := NewServer(repo, nil, zap.NewNop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(
		rec,
		httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+runID.String()+"/kinds", nil),
	)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "listing")
}

func TestServerNilRepoReturns503(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(nil, nil, zap.NewNop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// The process still reports ready; only the run endpoints degrade.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

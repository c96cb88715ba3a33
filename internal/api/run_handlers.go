package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quarrydata/marketplace-crawler/internal/store"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	runTimeout      = 3 * time.Second
)

// RunHandler exposes read-only run history endpoints.
type RunHandler struct {
	repo    store.RunRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunHandler wires the repository and logger.
func NewRunHandler(repo store.RunRepository, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{
		repo:    repo,
		timeout: runTimeout,
		logger:  logger,
	}
}

// ListRuns handles GET /api/v1/runs?status=&limit=&offset=. It returns
// {"runs": [...]} newest first, 400 for invalid filters, 503 when the run
// store is unavailable, or 500 if the repository call fails.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, h.logger, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.RunStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, parseErr := parseStatus(raw)
		if parseErr != nil {
			writeError(w, h.logger, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &parsed
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.repo.ListRuns(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"runs": toRunDTOs(runs),
	})
}

// GetRun handles GET /api/v1/runs/{run_id}. It returns {"run": {...}} on
// success, 400 for malformed IDs, 404 when the repository reports
// store.ErrNotFound, 503 if the store is missing, or 500 otherwise.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, h.logger, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, h.logger, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"run": toRunDTO(run)})
}

// ListRunKinds handles GET /api/v1/runs/{run_id}/kinds. It returns
// {"kinds": [...]} ordered by kind; an unknown run yields an empty list.
func (h *RunHandler) ListRunKinds(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, h.logger, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	kinds, err := h.repo.ListRunKinds(ctx, runID)
	if err != nil {
		h.logger.Error("list run kinds failed", zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "failed to list run kinds")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"kinds": toKindDTOs(kinds),
	})
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	runID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return runID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.RunStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return store.RunRunning, nil
	case "completed", "success":
		return store.RunCompleted, nil
	case "canceled", "cancelled":
		return store.RunCanceled, nil
	case "failed", "error", "failure":
		return store.RunFailed, nil
	default:
		return "", errors.New("invalid status")
	}
}

func toRunDTOs(in []store.RunRecord) []runDTO {
	out := make([]runDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toRunDTO(run))
	}
	return out
}

func toRunDTO(run store.RunRecord) runDTO {
	return runDTO{
		RunID:      run.RunID.String(),
		Status:     string(run.Status),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Counts: countsDTO{
			Discovered: run.Counts.Discovered,
			Attempted:  run.Counts.Attempted,
			Succeeded:  run.Counts.Succeeded,
			Failed:     run.Counts.Failed,
			Retried:    run.Counts.Retried,
			Skipped:    run.Counts.Skipped,
			Canceled:   run.Counts.Canceled,
		},
		Note: run.Note,
	}
}

func toKindDTOs(in []store.KindStats) []kindDTO {
	out := make([]kindDTO, 0, len(in))
	for _, k := range in {
		out = append(out, kindDTO{
			Kind:       k.Kind,
			Succeeded:  k.Succeeded,
			Failed:     k.Failed,
			LastUpdate: k.LastUpdate,
		})
	}
	return out
}

type runDTO struct {
	RunID      string     `json:"run_id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Counts     countsDTO  `json:"counts"`
	Note       *string    `json:"note,omitempty"`
}

type countsDTO struct {
	Discovered int64 `json:"discovered"`
	Attempted  int64 `json:"attempted"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
	Retried    int64 `json:"retried"`
	Skipped    int64 `json:"skipped"`
	Canceled   int64 `json:"canceled"`
}

type kindDTO struct {
	Kind       string    `json:"kind"`
	Succeeded  int64     `json:"succeeded"`
	Failed     int64     `json:"failed"`
	LastUpdate time.Time `json:"last_update"`
}

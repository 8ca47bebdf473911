package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/catalog-scraper/internal/database"
	"github.com/maltedev/catalog-scraper/internal/export"
	"github.com/maltedev/catalog-scraper/internal/jobs"
	"github.com/maltedev/catalog-scraper/internal/models"
	"github.com/maltedev/catalog-scraper/internal/scraper"
)

// RunManager is the part of jobs.Manager the handlers use.
type RunManager interface {
	Start(startURL string, maxPages int) (jobs.Job, error)
	Get(id string) (jobs.Job, error)
	List() []jobs.Job
	Listings(id string, limit int) ([]models.Listing, error)
	Cancel(id string) error
}

// RunHistory reads persisted runs, including runs from before a restart.
type RunHistory interface {
	ListRuns(ctx context.Context, limit int) ([]database.RunSummary, error)
	GetListings(ctx context.Context, runID string, limit int) ([]models.Listing, error)
}

// OutboxCounter reports delivery backlog for the health check.
type OutboxCounter interface {
	CountByStatus(ctx context.Context, statuses ...string) (int64, error)
}

type Handlers struct {
	jobs    RunManager
	history RunHistory
	outbox  OutboxCounter
	logger  *slog.Logger
}

func NewHandlers(manager RunManager, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		jobs:   manager,
		logger: logger.With("component", "api"),
	}
}

func (h *Handlers) WithHistory(history RunHistory) *Handlers {
	h.history = history
	return h
}

func (h *Handlers) WithOutbox(outbox OutboxCounter) *Handlers {
	h.outbox = outbox
	return h
}

type CreateCrawlRequest struct {
	URL      string `json:"url"`
	MaxPages int    `json:"max_pages"`
}

type CreateCrawlResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (h *Handlers) CreateCrawl(w http.ResponseWriter, r *http.Request) {
	var req CreateCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}
	if req.MaxPages < 0 {
		h.respondError(w, http.StatusBadRequest, "max_pages cannot be negative")
		return
	}

	job, err := h.jobs.Start(req.URL, req.MaxPages)
	switch {
	case errors.Is(err, scraper.ErrInvalidURL):
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, jobs.ErrShutdown):
		h.respondError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	case err != nil:
		h.logger.Error("failed to start crawl", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to start crawl")
		return
	}

	h.respondJSON(w, http.StatusCreated, CreateCrawlResponse{
		ID:     job.ID,
		Status: job.Status,
	})
}

func (h *Handlers) ListCrawls(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.List())
}

func (h *Handlers) GetCrawl(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(chi.URLParam(r, "runID"))
	if err != nil {
		h.respondLookupError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) GetListings(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	listings, err := h.listings(r.Context(), chi.URLParam(r, "runID"), limit)
	if err != nil {
		h.respondLookupError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, listings)
}

func (h *Handlers) ExportCSV(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	listings, err := h.listings(r.Context(), runID, 0)
	if err != nil {
		h.respondLookupError(w, err)
		return
	}

	filename := export.FileName("crawl_"+runID, export.FormatCSV, time.Now())
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)

	if err := export.WriteCSV(w, listings); err != nil {
		h.logger.Error("failed to write csv export", "run_id", runID, "error", err)
	}
}

func (h *Handlers) CancelCrawl(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if err := h.jobs.Cancel(runID); err != nil {
		if errors.Is(err, jobs.ErrJobFinished) {
			h.respondError(w, http.StatusConflict, err.Error())
			return
		}
		h.respondLookupError(w, err)
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     runID,
		"status": "cancelling",
	})
}

func (h *Handlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.respondError(w, http.StatusNotFound, "run history is not enabled")
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.history.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list run history", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []database.RunSummary{}
	}
	h.respondJSON(w, http.StatusOK, runs)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}

	if h.outbox != nil {
		pending, pendingErr := h.outbox.CountByStatus(r.Context(), database.OutboxStatusPending, database.OutboxStatusFailed)
		dead, deadErr := h.outbox.CountByStatus(r.Context(), database.OutboxStatusDeadLetter)
		if err := errors.Join(pendingErr, deadErr); err != nil {
			h.logger.Warn("failed to read outbox backlog", "error", err)
			health["status"] = "degraded"
		} else {
			health["outbox"] = map[string]int64{
				"pending":     pending,
				"dead_letter": dead,
			}
			if dead > 0 {
				health["status"] = "warning"
			}
		}
	}

	h.respondJSON(w, http.StatusOK, health)
}

// listings serves live runs from the manager and falls back to the stored
// history for runs the manager no longer knows.
func (h *Handlers) listings(ctx context.Context, runID string, limit int) ([]models.Listing, error) {
	listings, err := h.jobs.Listings(runID, limit)
	if !errors.Is(err, jobs.ErrJobNotFound) || h.history == nil {
		return listings, err
	}

	stored, err := h.history.GetListings(ctx, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored listings: %w", err)
	}
	if len(stored) == 0 {
		return nil, jobs.ErrJobNotFound
	}
	return stored, nil
}

func (h *Handlers) respondLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, jobs.ErrJobNotFound) {
		h.respondError(w, http.StatusNotFound, "crawl not found")
		return
	}
	h.logger.Error("crawl lookup failed", "error", err)
	h.respondError(w, http.StatusInternalServerError, "internal error")
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return v, nil
}

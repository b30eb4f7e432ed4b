// Package api exposes the evaluation pipeline over HTTP as a small JSON API
// plus xlsx downloads.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"omrgrader/internal/batch"
	"omrgrader/internal/model"
	"omrgrader/internal/report"
	"omrgrader/internal/store"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// maxUploadBytes caps one multipart upload request.
const maxUploadBytes = 64 << 20

// Pinger checks oracle reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	items   *batch.Store
	proc    *batch.Processor
	oracle  Pinger
	builder *report.Builder
	logger  *slog.Logger

	mu      sync.Mutex
	key     *model.AnswerKeyConfig
	running bool
	cancel  *batch.CancelFlag
	lastErr string
}

// New creates a new Handler. oracle may be nil, in which case the health
// endpoint skips the reachability check.
func New(s *store.Store, items *batch.Store, proc *batch.Processor, oracle Pinger, settings model.ExportSettings, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:   s,
		items:   items,
		proc:    proc,
		oracle:  oracle,
		builder: report.NewBuilder(settings),
		logger:  logger,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Put("/key", h.handleSetKey)
		r.Get("/key", h.handleGetKey)
		r.Post("/sheets", h.handleUploadSheets)
		r.Post("/run", h.handleRun)
		r.Post("/cancel", h.handleCancel)
		r.Get("/progress", h.handleProgress)
		r.Get("/items", h.handleItems)
		r.Get("/evaluations", h.handleListEvaluations)
		r.Get("/export/batch", h.handleExportBatch)
		r.Get("/export/evaluation/{id}", h.handleExportEvaluation)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}

	if h.store != nil {
		count, err := h.store.EvaluationCount(r.Context())
		if err != nil {
			h.writeError(w, err)
			return
		}
		resp["evaluations"] = count
	}
	if h.oracle != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := h.oracle.Ping(ctx); err != nil {
			resp["oracle"] = "unreachable"
		} else {
			resp["oracle"] = "ok"
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSetKey(w http.ResponseWriter, r *http.Request) {
	var cfg model.AnswerKeyConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := cfg.Validate(); err != nil {
		h.writeError(w, err)
		return
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		http.Error(w, "a run is active; the answer key cannot change mid-run", http.StatusConflict)
		return
	}
	h.key = &cfg
	h.mu.Unlock()

	// Stored so later export sessions can rebuild reports without re-entry.
	// Failure does not block the run.
	if err := h.store.SetAnswerKey(r.Context(), cfg); err != nil {
		h.logger.Warn("failed to persist answer key", "error", err)
	}
	respondJSON(w, http.StatusOK, map[string]any{"questions": len(cfg.Answers)})
}

func (h *Handler) handleGetKey(w http.ResponseWriter, r *http.Request) {
	cfg, ok, err := h.resolveKey(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		http.Error(w, "no answer key configured", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (h *Handler) handleUploadSheets(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}
	files := r.MultipartForm.File["sheets"]
	if len(files) == 0 {
		http.Error(w, "no files in field \"sheets\"", http.StatusBadRequest)
		return
	}

	newItems := make([]model.BatchItem, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			http.Error(w, fmt.Sprintf("open %s: %v", fh.Filename, err), http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			http.Error(w, fmt.Sprintf("read %s: %v", fh.Filename, err), http.StatusBadRequest)
			return
		}
		newItems = append(newItems, model.BatchItem{
			FileName:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			ImageData:   data,
		})
	}

	if v := r.FormValue("expected"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			h.items.SetExpectedCount(n)
		}
	}

	first := h.items.Append(newItems)
	h.logger.Info("sheets uploaded", "count", len(newItems), "first_index", first)
	respondJSON(w, http.StatusOK, map[string]any{
		"added":       len(newItems),
		"first_index": first,
		"total":       h.items.Len(),
	})
}

type runRequest struct {
	StartIndex int `json:"start_index"`
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
	}

	cfg, ok, err := h.resolveKey(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		http.Error(w, "no answer key configured", http.StatusBadRequest)
		return
	}
	if err := cfg.Validate(); err != nil {
		h.writeError(w, err)
		return
	}
	if h.items.Len() == 0 {
		http.Error(w, "no sheets uploaded", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		http.Error(w, "a run is already active", http.StatusConflict)
		return
	}
	cancel := &batch.CancelFlag{}
	h.running = true
	h.cancel = cancel
	h.lastErr = ""
	h.mu.Unlock()

	go func() {
		summary, err := h.proc.Run(context.Background(), h.items, cfg, req.StartIndex, cancel)
		h.mu.Lock()
		h.running = false
		h.cancel = nil
		if err != nil {
			h.lastErr = err.Error()
		}
		h.mu.Unlock()
		if err != nil {
			h.logger.Error("batch run failed", "error", err)
			return
		}
		h.logger.Info("batch run finished",
			"success", summary.SuccessCount,
			"errors", summary.ErrorCount,
			"attempted", summary.TotalAttempted)
	}()

	respondJSON(w, http.StatusAccepted, map[string]any{
		"started":     true,
		"start_index": req.StartIndex,
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	cancel := h.cancel
	running := h.running
	h.mu.Unlock()

	// Cancelling an idle pipeline is a no-op, not an error.
	if running && cancel != nil {
		cancel.Cancel()
	}
	respondJSON(w, http.StatusOK, map[string]any{"running": running})
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	running := h.running
	lastErr := h.lastErr
	h.mu.Unlock()

	p := h.items.Progress()
	resp := map[string]any{
		"running":         running,
		"current_index":   h.proc.CurrentIndex(),
		"completed_count": p.CompletedCount,
		"error_count":     p.ErrorCount,
		"total_target":    p.TotalTarget,
		"pending":         h.items.HasPendingSheets(),
	}
	if lastErr != "" {
		resp["last_error"] = lastErr
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleItems(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.items.Items())
}

func (h *Handler) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.ListEvaluations(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, recs)
}

func (h *Handler) handleExportBatch(w http.ResponseWriter, r *http.Request) {
	items := h.items.Items()
	recs, err := h.store.ListEvaluations(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	key, _, err := h.resolveKey(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	f, err := h.builder.BuildBatch(r.Context(), items, recs, key)
	if err != nil {
		h.writeError(w, err)
		return
	}
	name := report.BatchFileName(len(items), time.Now())
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+name+"\"")
	if err := f.Write(w); err != nil {
		h.logger.Error("write workbook", "error", err)
	}
}

func (h *Handler) handleExportEvaluation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.store.GetEvaluation(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "evaluation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	f, err := h.builder.BuildSingle(r.Context(), rec)
	if err != nil {
		h.writeError(w, err)
		return
	}
	name := report.SingleFileName(rec.RollNumber, rec.SubjectCode, time.Now())
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+name+"\"")
	if err := f.Write(w); err != nil {
		h.logger.Error("write workbook", "error", err)
	}
}

// resolveKey returns the in-memory key, falling back to the stored one.
func (h *Handler) resolveKey(ctx context.Context) (model.AnswerKeyConfig, bool, error) {
	h.mu.Lock()
	key := h.key
	h.mu.Unlock()
	if key != nil {
		return *key, true, nil
	}
	return h.store.GetAnswerKey(ctx)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var cfgErr *model.ConfigurationError
	var expErr *report.ExportError
	switch {
	case errors.As(err, &cfgErr):
		http.Error(w, cfgErr.Error(), http.StatusBadRequest)
	case errors.As(err, &expErr):
		http.Error(w, expErr.Error(), http.StatusConflict)
	default:
		h.logger.Error("request failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

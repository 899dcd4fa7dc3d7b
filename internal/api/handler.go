// Package api provides the thin HTTP surface over the query core. It carries
// no policy logic: requests are decoded, handed to the result cache, and the
// outcome is mapped onto HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/infofitsoftware/athena-dashboard/internal/cache"
	"github.com/infofitsoftware/athena-dashboard/internal/domain"
	"github.com/infofitsoftware/athena-dashboard/internal/history"
	"github.com/infofitsoftware/athena-dashboard/internal/middleware"
)

// Handler serves the dashboard query API.
type Handler struct {
	cache   *cache.ResultCache
	history *history.Log // nil when history is disabled
	logger  *slog.Logger
}

// NewHandler creates a Handler over the result cache.
func NewHandler(c *cache.ResultCache, h *history.Log, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{cache: c, history: h, logger: logger}
}

// Register mounts the API routes on the given router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/query", h.executeQuery)
	r.Delete("/v1/cache/{fingerprint}", h.invalidate)
	r.Get("/v1/history", h.recentHistory)
	r.Get("/healthz", h.health)
}

// queryRequest is the wire form of a dashboard query.
type queryRequest struct {
	Params   map[string]string   `json:"params"`
	Filters  map[string][]string `json:"filters"`
	GroupBy  []string            `json:"group_by"`
	PageSize int                 `json:"page_size"`
}

// queryResponse wraps a result table with its cache identity.
type queryResponse struct {
	Fingerprint string             `json:"fingerprint"`
	Result      domain.ResultTable `json:"result"`
}

func (h *Handler) executeQuery(w http.ResponseWriter, r *http.Request) {
	var body queryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req := domain.QueryRequest{
		CallerKey: middleware.CallerKeyFromContext(r.Context()),
		Params:    body.Params,
		Filters:   body.Filters,
		GroupBy:   body.GroupBy,
		PageSize:  body.PageSize,
	}

	result, fp, err := h.cache.GetOrExecute(r.Context(), req)
	if err != nil {
		setRetryAfter(w, err)
		writeError(w, httpStatusFromDomainError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Fingerprint: fp.String(),
		Result:      *result,
	})
}

func (h *Handler) invalidate(w http.ResponseWriter, r *http.Request) {
	fp := domain.Fingerprint(chi.URLParam(r, "fingerprint"))
	if fp == "" {
		writeError(w, http.StatusBadRequest, "fingerprint is required")
		return
	}
	if !h.cache.Invalidate(fp) {
		writeError(w, http.StatusNotFound, "no cache entry for fingerprint "+fp.String())
		return
	}
	h.logger.Info("cache entry invalidated", "fingerprint", fp.String(),
		"request_id", middleware.RequestIDFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recentHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "query history is disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": h.history.Recent(limit),
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"code":    status,
		"message": message,
	})
}

// Package health exposes HTTP endpoints for operational visibility:
// per-source circuit breaker state and the archived run history.
package health

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/quarry-ai/quarry/internal/history"
	"github.com/quarry-ai/quarry/internal/resilience"
)

// Handler serves the status endpoints. audit may be nil when run
// archiving is disabled.
type Handler struct {
	registry *resilience.Registry
	audit    *history.Store
	logger   *zap.Logger
}

// NewHandler creates a handler over the source registry and optional
// audit store.
func NewHandler(registry *resilience.Registry, audit *history.Store, logger *zap.Logger) *Handler {
	return &Handler{registry: registry, audit: audit, logger: logger}
}

// Register mounts the endpoints on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/runs", h.handleRuns)
}

type healthResponse struct {
	Status  string              `json:"status"`
	Sources []resilience.Health `json:"sources"`
}

// handleHealth reports per-source breaker state. The endpoint returns
// 503 only when every source is open, matching the condition under
// which a run cannot make progress.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Sources: h.registry.Snapshot()}
	code := http.StatusOK
	if h.registry.AllOpen() {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	} else {
		for _, s := range resp.Sources {
			if s.State != resilience.BreakerClosed {
				resp.Status = "degraded"
				break
			}
		}
	}
	h.writeJSON(w, code, resp)
}

// handleRuns lists recently archived runs, newest first. ?limit=N caps
// the result.
func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		http.Error(w, "run history is disabled", http.StatusNotFound)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := h.audit.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list runs", zap.Error(err))
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/haloview/tvbrain/internal/store"
	"github.com/haloview/tvbrain/internal/types"
)

// Engine is the device-side surface the handlers expose over HTTP.
// Implemented by brain.Brain.
type Engine interface {
	Recommend(ctx context.Context, vc types.ViewContext) ([]types.Recommendation, error)
	Observe(ctx context.Context, event types.ViewingEvent) error
	Sync(ctx context.Context) (*types.SyncResult, error)
	Health(ctx context.Context) map[string]string
	Stats(ctx context.Context) (*store.Stats, error)
}

// Handler implements the API handlers
type Handler struct {
	engine  Engine
	version string
}

// NewHandler creates a new Handler.
func NewHandler(engine Engine, version string) *Handler {
	return &Handler{engine: engine, version: version}
}

// Recommend handles POST /api/v1/recommend
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	var vc types.ViewContext
	if err := json.NewDecoder(r.Body).Decode(&vc); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	recs, err := h.engine.Recommend(r.Context(), vc)
	if err != nil {
		MapEngineError(w, r, err)
		return
	}

	resp := struct {
		Recommendations []types.Recommendation `json:"recommendations"`
		Count           int                    `json:"count"`
	}{
		Recommendations: recs,
		Count:           len(recs),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ObserveEvent handles POST /api/v1/events
func (h *Handler) ObserveEvent(w http.ResponseWriter, r *http.Request) {
	var event types.ViewingEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	if err := h.engine.Observe(r.Context(), event); err != nil {
		MapEngineError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

// TriggerSync handles POST /api/v1/sync
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Sync(r.Context())
	if err != nil {
		slog.Warn("manual sync failed", "error", err)
		MapEngineError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// Health handles GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Status     string            `json:"status"`
		Version    string            `json:"version"`
		Components map[string]string `json:"components"`
	}{
		Status:     "healthy",
		Version:    h.version,
		Components: h.engine.Health(r.Context()),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Stats handles GET /api/v1/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		slog.Error("stats failed", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

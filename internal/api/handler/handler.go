// Package handler provides HTTP handlers for the notice engine's API:
// per-flavor sweep triggers, circulation lifecycle event intake, and queue
// inspection.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/opencirc/noticesvc/internal/api/respond"
	"github.com/opencirc/noticesvc/internal/db"
	"github.com/opencirc/noticesvc/internal/notices"
)

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	pool      *db.Pool
	processor *notices.Processor
	scheduler *notices.Scheduler
	repo      notices.Repository
	logger    *slog.Logger
}

// New creates a Handler with shared dependencies.
func New(pool *db.Pool, processor *notices.Processor, scheduler *notices.Scheduler,
	repo notices.Repository, logger *slog.Logger) *Handler {

	return &Handler{
		pool:      pool,
		processor: processor,
		scheduler: scheduler,
		repo:      repo,
		logger:    logger,
	}
}

// Root serves API info at /.
// @Summary API root info
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	flavors := make([]string, 0, len(notices.Flavors))
	for _, f := range notices.Flavors {
		flavors = append(flavors, f.Name)
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":    "Circulation Notices Service",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs",
		"flavors": flavors,
	})
}

// HealthCheck reports process liveness.
// @Summary Liveness check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} respond.ErrorResponse
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if err := h.pool.HealthCheck(r.Context()); err != nil {
		respond.WriteError(w, http.StatusServiceUnavailable, "DB_UNAVAILABLE", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ecosystem-harvester/internal/runner"
)

// DiscoveryTrigger is the discovery worker surface the API needs.
type DiscoveryTrigger interface {
	Start(ctx context.Context) error
	Running() bool
}

// ActivityTrigger is the activity worker surface the API needs.
type ActivityTrigger interface {
	Start(ctx context.Context, backfill bool) error
	Running() bool
}

// Handler is the container for API dependencies.
type Handler struct {
	appCtx    context.Context
	discovery DiscoveryTrigger
	activity  ActivityTrigger
	logger    *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
// Triggered runs outlive their HTTP request, so they start from appCtx and
// stop with the application rather than with the request.
func NewRouter(appCtx context.Context, discovery DiscoveryTrigger, activity ActivityTrigger, logger *slog.Logger) http.Handler {
	h := &Handler{
		appCtx:    appCtx,
		discovery: discovery,
		activity:  activity,
		logger:    logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Get("/ready", h.readiness)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/runs/discovery", h.triggerDiscovery)
		r.Post("/runs/activity", h.triggerActivity)
		r.Post("/runs/backfill", h.triggerBackfill)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness reports each worker's running state.
// GET /ready
func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{
		"discovery": stateLabel(h.discovery.Running()),
		"activity":  stateLabel(h.activity.Running()),
	})
}

// triggerDiscovery starts a discovery run in the background.
// POST /v1/runs/discovery
func (h *Handler) triggerDiscovery(w http.ResponseWriter, r *http.Request) {
	h.respondToTrigger(w, "discovery", h.discovery.Start(h.appCtx))
}

// triggerActivity starts an activity collection run in the background.
// POST /v1/runs/activity
func (h *Handler) triggerActivity(w http.ResponseWriter, r *http.Request) {
	h.respondToTrigger(w, "activity", h.activity.Start(h.appCtx, false))
}

// triggerBackfill starts a backfill collection run in the background.
// POST /v1/runs/backfill
func (h *Handler) triggerBackfill(w http.ResponseWriter, r *http.Request) {
	h.respondToTrigger(w, "backfill", h.activity.Start(h.appCtx, true))
}

func (h *Handler) respondToTrigger(w http.ResponseWriter, run string, err error) {
	if errors.Is(err, runner.ErrAlreadyRunning) {
		respondWithError(w, http.StatusConflict, "A run is already in progress")
		return
	}
	if err != nil {
		h.logger.Error("Failed to trigger run", "run", run, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"run": run, "status": "started"})
}

func stateLabel(running bool) string {
	if running {
		return "running"
	}
	return "idle"
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

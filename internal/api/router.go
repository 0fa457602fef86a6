package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency check on GET /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/readers", func(r chi.Router) {
			r.Get("/", s.handleListReaders)
			r.Post("/", s.handleCreateReader)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetReader)
				r.Put("/", s.handleUpdateReader)
				r.Delete("/", s.handleDeleteReader)
				r.Get("/events", s.handleListReaderEvents)

				r.Post("/connect", s.handleConnectReader)
				r.Post("/disconnect", s.handleDisconnectReader)
				r.Post("/enable", s.handleSetEnabled(true))
				r.Post("/disable", s.handleSetEnabled(false))

				r.Post("/open", s.handleOpenRelay)
				r.Post("/restart", s.handleRestartReader)
				r.Post("/commands/{command}", s.handleReaderCommand)
			})
		})

		r.Post("/emergency", s.handleEmergencyOpen)
		r.Post("/emergency/end", s.handleEmergencyEnd)
		r.Post("/broadcast/{command}", s.handleBroadcast)

		r.Get("/audit", s.handleListAudit)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
//
// Status is "starting" until the manager has loaded its readers and
// "degraded" while any configured dependency fails its check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	ready := s.manager.IsReady()
	if !ready {
		status = "starting"
	}

	checks := make(map[string]string, len(s.checks))
	for name, checker := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := checker.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            status,
		"version":           s.version,
		"ready":             ready,
		"checks":            checks,
		"stats":             s.manager.Stats(),
		"websocket_clients": s.hub.ClientCount(),
	})
}

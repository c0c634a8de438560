// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/fleetrollout/internal/middleware"
)

// NewRouter builds the HTTP routes.
//
// Global middleware: request ID with logging context, real client IP, panic
// recovery, metrics by route pattern, CORS and security headers. The API
// group adds rate limiting and actor attribution; health and metrics are not
// rate limited so probes and scrapes keep working under load.
func NewRouter(h *Handler, mw *ChiMiddleware) http.Handler {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
	r.Use(mw.CORS())
	r.Use(APISecurityHeaders())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health/live", h.HealthLive)
		r.Get("/health/ready", h.HealthReady)

		r.Group(func(r chi.Router) {
			r.Use(mw.RateLimit())
			r.Use(ActorContext())

			r.Route("/deployments", func(r chi.Router) {
				r.Post("/", h.CreateDeployment)
				r.Get("/", h.ListDeployments)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetDeployment)
					r.Put("/", h.UpdateDeployment)
					r.Post("/initialize", h.InitializeDeployment)
					r.Post("/start", h.StartDeployment)
					r.Post("/pause", h.PauseDeployment)
					r.Post("/resume", h.ResumeDeployment)
					r.Post("/cancel", h.CancelDeployment)
					r.Get("/progress", h.DeploymentProgress)
					r.Get("/progress/ws", h.ProgressStream)
					r.Get("/devices", h.DeploymentDevices)
					r.Post("/devices/{deviceId}/retry", h.RetryDevice)
					r.Get("/audit", h.DeploymentAudit)
				})
			})

			r.Route("/inventory", func(r chi.Router) {
				r.Get("/devices", h.ListDevices)
				r.Put("/devices/{deviceId}", h.PutDevice)
				r.Get("/groups", h.ListGroups)
				r.Put("/groups/{groupId}", h.PutGroup)
			})
		})
	})

	return r
}

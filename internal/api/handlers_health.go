// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// readinessTimeout bounds all readiness checks of one request.
const readinessTimeout = 2 * time.Second

// HealthStatus is returned by the health endpoints.
type HealthStatus struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	Uptime        float64           `json:"uptimeSeconds"`
	ActiveDrivers int               `json:"activeDrivers"`
	Streams       int               `json:"progressStreams"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// HealthLive handles GET /health/live. It only reports that the process
// serves requests.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.healthStatus("ok", nil))
}

// HealthReady handles GET /health/ready. Every readiness check must pass;
// otherwise the response is 503 with the failing checks in details.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	names := make([]string, 0, len(h.readiness))
	for name := range h.readiness {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	ready := true
	for _, name := range names {
		if err := h.readiness[name](ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	rw := NewResponseWriter(w, r)
	if !ready {
		rw.ServiceUnavailable("service not ready", h.healthStatus("unavailable", checks))
		return
	}
	rw.Success(h.healthStatus("ready", checks))
}

func (h *Handler) healthStatus(status string, checks map[string]string) HealthStatus {
	hs := HealthStatus{
		Status:  status,
		Version: h.version,
		Uptime:  time.Since(h.startTime).Seconds(),
		Streams: h.hub.ClientCount(),
		Checks:  checks,
	}
	if h.engine != nil {
		hs.ActiveDrivers = h.engine.ActiveDrivers()
	}
	return hs
}

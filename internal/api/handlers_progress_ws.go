// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package api

import (
	"net/http"
	"net/url"
	"slices"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/tomtom215/fleetrollout/internal/logging"
	"github.com/tomtom215/fleetrollout/internal/websocket"
)

// upgrader checks the Origin header against the CORS allow-list. With no
// configured origins only same-host requests (or requests without an
// Origin, such as CLI clients) are accepted.
func (h *Handler) upgrader() *gorillaws.Upgrader {
	return &gorillaws.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if slices.Contains(h.origins, "*") || slices.Contains(h.origins, origin) {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && u.Host == r.Host
		},
	}
}

// ProgressStream handles GET /deployments/{id}/progress/ws. The deployment
// must exist before the upgrade so unknown IDs get a JSON 404.
func (h *Handler) ProgressStream(w http.ResponseWriter, r *http.Request) {
	id, ok := deploymentID(w, r)
	if !ok {
		return
	}
	if _, err := h.engine.GetDeployment(r.Context(), id); err != nil {
		NewResponseWriter(w, r).EngineError(err)
		return
	}

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		logging.Ctx(r.Context()).Debug().Err(err).Str("deployment_id", id).Msg("websocket upgrade failed")
		return
	}

	client := websocket.NewClient(h.hub, conn, h.engine, id, h.heartbeat)
	if err := client.Run(r.Context()); err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Str("deployment_id", id).Msg("progress stream ended")
	}
}

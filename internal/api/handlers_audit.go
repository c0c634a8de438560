// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package api

import (
	"net/http"

	"github.com/tomtom215/fleetrollout/internal/audit"
	"github.com/tomtom215/fleetrollout/internal/validation"
)

// DeploymentAudit handles GET /deployments/{id}/audit.
//
// Query parameters: types (comma-separated event types), deviceId, since,
// until (RFC3339), limit (1-1000, default 100), offset. Events are returned
// oldest first.
func (h *Handler) DeploymentAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := deploymentID(w, r)
	if !ok {
		return
	}
	rw := NewResponseWriter(w, r)

	q, err := parseAuditQuery(r)
	if err != nil {
		rw.Error(http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	if verr := validation.ValidateStruct(&q); verr != nil {
		rw.ValidationError(verr)
		return
	}

	if _, err := h.engine.GetDeployment(r.Context(), id); err != nil {
		rw.EngineError(err)
		return
	}
	if h.audit == nil {
		rw.SuccessWithPagination([]audit.Event{}, &PaginationMeta{Limit: q.Limit})
		return
	}

	filter := q.Filter(id)
	events, err := h.audit.Query(r.Context(), filter)
	if err != nil {
		rw.EngineError(err)
		return
	}
	total, err := h.audit.Count(r.Context(), filter)
	if err != nil {
		rw.EngineError(err)
		return
	}

	rw.SuccessWithPagination(events, &PaginationMeta{
		Total:   total,
		Count:   len(events),
		Offset:  q.Offset,
		Limit:   q.Limit,
		HasMore: int64(q.Offset+len(events)) < total,
	})
}

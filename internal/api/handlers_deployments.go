// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/fleetrollout/internal/models"
	"github.com/tomtom215/fleetrollout/internal/validation"
)

// deploymentID reads and validates the {id} path parameter. On failure the
// response is written and ok is false.
func deploymentID(w http.ResponseWriter, r *http.Request) (id string, ok bool) {
	return pathIdentifier(w, r, "id")
}

func pathIdentifier(w http.ResponseWriter, r *http.Request, param string) (string, bool) {
	p := PathID{ID: chi.URLParam(r, param)}
	if verr := validation.ValidateStruct(&p); verr != nil {
		NewResponseWriter(w, r).ValidationError(verr)
		return "", false
	}
	return p.ID, true
}

// actorID returns the caller named in ActorHeader, as accepted by ActorContext.
func actorID(r *http.Request) string {
	actor := strings.TrimSpace(r.Header.Get(ActorHeader))
	if len(actor) > maxActorLength {
		return ""
	}
	return actor
}

// CreateDeployment handles POST /deployments.
func (h *Handler) CreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req DeploymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rw := NewResponseWriter(w, r)
	if verr := validation.ValidateRequest(&req); verr != nil {
		rw.ValidationError(verr)
		return
	}

	d, err := h.engine.CreateDeployment(r.Context(), req.Spec(actorID(r)))
	if err != nil {
		rw.EngineError(err)
		return
	}
	rw.Created(d)
}

// ListDeployments handles GET /deployments?orgId=.
func (h *Handler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	q := OrgQuery{OrgID: r.URL.Query().Get("orgId")}
	if verr := validation.ValidateStruct(&q); verr != nil {
		rw.ValidationError(verr)
		return
	}

	deps, err := h.engine.ListDeployments(r.Context(), q.OrgID)
	if err != nil {
		rw.EngineError(err)
		return
	}
	if deps == nil {
		deps = []*models.Deployment{}
	}
	rw.SuccessWithPagination(deps, &PaginationMeta{Total: int64(len(deps)), Count: len(deps)})
}

// GetDeployment handles GET /deployments/{id}.
func (h *Handler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	id, ok := deploymentID(w, r)
	if !ok {
		return
	}
	rw := NewResponseWriter(w, r)
	d, err := h.engine.GetDeployment(r.Context(), id)
	if err != nil {
		rw.EngineError(err)
		return
	}
	rw.Success(d)
}

// UpdateDeployment handles PUT /deployments/{id}. Only drafts can change.
func (h *Handler) UpdateDeployment(w http.ResponseWriter, r *http.Request) {
	id, ok := deploymentID(w, r)
	if !ok {
		return
	}
	var req DeploymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rw := NewResponseWriter(w, r)
	if verr := validation.ValidateRequest(&req); verr != nil {
		rw.ValidationError(verr)
		return
	}

	d, err := h.engine.UpdateDraft(r.Context(), id, req.Spec(""))
	if err != nil {
		rw.EngineError(err)
		return
	}
	rw.Success(d)
}

// InitializeDeployment handles POST /deployments/{id}/initialize.
func (h *Handler) InitializeDeployment(w http.ResponseWriter, r *http.Request) {
	id, ok := deploymentID(w, r)
	if !ok {
		return
	}
	rw := NewResponseWriter(w, r)
	res, err := h.engine.Initialize(r.Context(), id)
	if err != nil {
		rw.EngineError(err)
		return
	}
	rw.Success(res)
}

// lifecycle adapts a lifecycle operation into a handler.
func (h *Handler) lifecycle(op func(ctx context.Context, id string) (*models.Deployment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := deploymentID(w, r)
		if !ok {
			return
		}
		rw := NewResponseWriter(w, r)
		d, err := op(r.Context(), id)
		if err != nil {
			rw.EngineError(err)
			return
		}
		rw.Success(d)
	}
}

// StartDeployment handles POST /deployments/{id}/start.
func (h *Handler) StartDeployment(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(h.engine.Start)(w, r)
}

// PauseDeployment handles POST /deployments/{id}/pause.
func (h *Handler) PauseDeployment(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(h.engine.Pause)(w, r)
}

// ResumeDeployment handles POST /deployments/{id}/resume.
func (h *Handler) ResumeDeployment(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(h.engine.Resume)(w, r)
}

// CancelDeployment handles POST /deployments/{id}/cancel.
func (h *Handler) CancelDeployment(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(h.engine.Cancel)(w, r)
}

// DeploymentProgress handles GET /deployments/{id}/progress.
func (h *Handler) DeploymentProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := deploymentID(w, r)
	if !ok {
		return
	}
	rw := NewResponseWriter(w, r)
	p, err := h.engine.Progress(r.Context(), id)
	if err != nil {
		rw.EngineError(err)
		return
	}
	rw.Success(p)
}

// DeploymentDevices handles GET /deployments/{id}/devices.
func (h *Handler) DeploymentDevices(w http.ResponseWriter, r *http.Request) {
	id, ok := deploymentID(w, r)
	if !ok {
		return
	}
	rw := NewResponseWriter(w, r)
	items, err := h.engine.ListItems(r.Context(), id)
	if err != nil {
		rw.EngineError(err)
		return
	}
	if items == nil {
		items = []*models.DeviceWorkItem{}
	}
	rw.SuccessWithPagination(items, &PaginationMeta{Total: int64(len(items)), Count: len(items)})
}

// RetryDevice handles POST /deployments/{id}/devices/{deviceId}/retry.
// A device that is not failed or has exhausted its budget yields
// canRetry=false with status 200.
func (h *Handler) RetryDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deploymentID(w, r)
	if !ok {
		return
	}
	deviceID, ok := pathIdentifier(w, r, "deviceId")
	if !ok {
		return
	}
	rw := NewResponseWriter(w, r)
	outcome, err := h.engine.RetryDevice(r.Context(), id, deviceID)
	if err != nil {
		rw.EngineError(err)
		return
	}
	rw.Success(outcome)
}

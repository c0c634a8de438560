// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package api

import (
	"net/http"

	"github.com/tomtom215/fleetrollout/internal/models"
	"github.com/tomtom215/fleetrollout/internal/validation"
)

// PutDevice handles PUT /inventory/devices/{deviceId}. It creates or
// replaces the device.
func (h *Handler) PutDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathIdentifier(w, r, "deviceId")
	if !ok {
		return
	}
	var req DeviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rw := NewResponseWriter(w, r)
	if verr := validation.ValidateRequest(&req); verr != nil {
		rw.ValidationError(verr)
		return
	}

	dev := req.Device(id)
	if err := h.inventory.PutDevice(r.Context(), dev); err != nil {
		rw.EngineError(err)
		return
	}
	rw.Success(dev)
}

// ListDevices handles GET /inventory/devices?orgId=.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	q := OrgQuery{OrgID: r.URL.Query().Get("orgId")}
	if verr := validation.ValidateStruct(&q); verr != nil {
		rw.ValidationError(verr)
		return
	}

	devices, err := h.inventory.ListDevices(r.Context(), q.OrgID)
	if err != nil {
		rw.EngineError(err)
		return
	}
	if devices == nil {
		devices = []*models.Device{}
	}
	rw.SuccessWithPagination(devices, &PaginationMeta{Total: int64(len(devices)), Count: len(devices)})
}

// PutGroup handles PUT /inventory/groups/{groupId}.
func (h *Handler) PutGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathIdentifier(w, r, "groupId")
	if !ok {
		return
	}
	var req GroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rw := NewResponseWriter(w, r)
	if verr := validation.ValidateRequest(&req); verr != nil {
		rw.ValidationError(verr)
		return
	}

	g := req.Group(id)
	if err := h.inventory.PutGroup(r.Context(), g); err != nil {
		rw.EngineError(err)
		return
	}
	rw.Success(g)
}

// ListGroups handles GET /inventory/groups?orgId=.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	q := OrgQuery{OrgID: r.URL.Query().Get("orgId")}
	if verr := validation.ValidateStruct(&q); verr != nil {
		rw.ValidationError(verr)
		return
	}

	groups, err := h.inventory.ListGroups(r.Context(), q.OrgID)
	if err != nil {
		rw.EngineError(err)
		return
	}
	if groups == nil {
		groups = []*models.Group{}
	}
	rw.SuccessWithPagination(groups, &PaginationMeta{Total: int64(len(groups)), Count: len(groups)})
}

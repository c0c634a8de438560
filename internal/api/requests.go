// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/fleetrollout/internal/audit"
	"github.com/tomtom215/fleetrollout/internal/models"
	"github.com/tomtom215/fleetrollout/internal/rollout"
)

// defaultAuditLimit applies when the audit query has no limit.
const defaultAuditLimit = 100

// DeploymentRequest is the body of create and update. An omitted
// rolloutConfig means an immediate rollout with default retries.
type DeploymentRequest struct {
	OrgID         string                `json:"orgId" validate:"required,identifier"`
	Name          string                `json:"name" validate:"required,max=255"`
	Type          string                `json:"type" validate:"required,max=64"`
	Payload       json.RawMessage       `json:"payload,omitempty"`
	TargetType    models.TargetType     `json:"targetType" validate:"required,oneof=devices groups filter all"`
	TargetConfig  models.TargetConfig   `json:"targetConfig"`
	Schedule      models.Schedule       `json:"schedule"`
	RolloutConfig *models.RolloutConfig `json:"rolloutConfig,omitempty"`
}

// Validate checks the tagged unions after tag validation passed.
func (r *DeploymentRequest) Validate() error {
	spec := r.Spec("")
	return spec.Validate()
}

// Spec converts the request into an engine definition.
func (r *DeploymentRequest) Spec(createdBy string) rollout.DeploymentSpec {
	cfg := models.DefaultRolloutConfig()
	if r.RolloutConfig != nil {
		cfg = *r.RolloutConfig
	}
	return rollout.DeploymentSpec{
		OrgID:         r.OrgID,
		Name:          r.Name,
		Type:          r.Type,
		Payload:       r.Payload,
		TargetType:    r.TargetType,
		TargetConfig:  r.TargetConfig,
		Schedule:      r.Schedule,
		RolloutConfig: cfg,
		CreatedBy:     createdBy,
	}
}

// OrgQuery is the query of the org-scoped list endpoints.
type OrgQuery struct {
	OrgID string `json:"orgId" validate:"required,identifier"`
}

// DeviceRequest is the body of PUT /inventory/devices/{deviceId}. The ID
// comes from the path.
type DeviceRequest struct {
	OrgID             string                    `json:"orgId" validate:"required,identifier"`
	Hostname          string                    `json:"hostname,omitempty" validate:"max=255"`
	OS                string                    `json:"os,omitempty" validate:"max=64"`
	SiteID            string                    `json:"siteId,omitempty" validate:"max=128"`
	Tags              []string                  `json:"tags,omitempty" validate:"omitempty,dive,max=64"`
	AgentVersion      string                    `json:"agentVersion,omitempty" validate:"max=64"`
	Status            models.DeviceStatus       `json:"status" validate:"required,oneof=online offline decommissioned"`
	MaintenanceWindow *models.MaintenanceWindow `json:"maintenanceWindow,omitempty"`
	EnrolledAt        *time.Time                `json:"enrolledAt,omitempty"`
}

// Device builds the inventory record for id.
func (r *DeviceRequest) Device(id string) *models.Device {
	dev := &models.Device{
		ID:                id,
		OrgID:             r.OrgID,
		Hostname:          r.Hostname,
		OS:                r.OS,
		SiteID:            r.SiteID,
		Tags:              r.Tags,
		AgentVersion:      r.AgentVersion,
		Status:            r.Status,
		MaintenanceWindow: r.MaintenanceWindow,
	}
	if r.EnrolledAt != nil {
		dev.EnrolledAt = r.EnrolledAt.UTC()
	}
	return dev
}

// GroupRequest is the body of PUT /inventory/groups/{groupId}.
type GroupRequest struct {
	OrgID     string   `json:"orgId" validate:"required,identifier"`
	Name      string   `json:"name" validate:"required,max=255"`
	DeviceIDs []string `json:"deviceIds" validate:"omitempty,dive,identifier"`
}

// Group builds the inventory record for id.
func (r *GroupRequest) Group(id string) *models.Group {
	return &models.Group{ID: id, OrgID: r.OrgID, Name: r.Name, DeviceIDs: r.DeviceIDs}
}

// PathID validates an identifier taken from the URL path.
type PathID struct {
	ID string `json:"id" validate:"required,identifier"`
}

// AuditQuery is the query of GET /deployments/{id}/audit.
type AuditQuery struct {
	DeviceID string            `json:"deviceId" validate:"omitempty,identifier"`
	Types    []audit.EventType `json:"types"`
	Since    time.Time         `json:"since"`
	Until    time.Time         `json:"until"`
	Limit    int               `json:"limit" validate:"min=1,max=1000"`
	Offset   int               `json:"offset" validate:"min=0"`
}

// parseAuditQuery reads the audit query parameters. Unparseable values are
// reported as an error naming the parameter.
func parseAuditQuery(r *http.Request) (AuditQuery, error) {
	q := r.URL.Query()
	out := AuditQuery{
		DeviceID: q.Get("deviceId"),
		Limit:    defaultAuditLimit,
	}

	for _, t := range parseCommaSeparated(q.Get("types")) {
		out.Types = append(out.Types, audit.EventType(t))
	}

	var err error
	if out.Since, err = parseTimeParam(q.Get("since")); err != nil {
		return out, fmt.Errorf("since: %w", err)
	}
	if out.Until, err = parseTimeParam(q.Get("until")); err != nil {
		return out, fmt.Errorf("until: %w", err)
	}
	if v := q.Get("limit"); v != "" {
		if out.Limit, err = strconv.Atoi(v); err != nil {
			return out, fmt.Errorf("limit: must be an integer")
		}
	}
	if v := q.Get("offset"); v != "" {
		if out.Offset, err = strconv.Atoi(v); err != nil {
			return out, fmt.Errorf("offset: must be an integer")
		}
	}
	return out, nil
}

// Filter converts the query into an audit store filter.
func (q AuditQuery) Filter(deploymentID string) audit.QueryFilter {
	return audit.QueryFilter{
		DeploymentID: deploymentID,
		DeviceID:     q.DeviceID,
		Types:        q.Types,
		Since:        q.Since,
		Until:        q.Until,
		Limit:        q.Limit,
		Offset:       q.Offset,
	}
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("must be an RFC3339 timestamp")
	}
	return t, nil
}

// parseCommaSeparated splits a comma-separated value, dropping empty parts.
func parseCommaSeparated(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

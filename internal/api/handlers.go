// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/fleetrollout/internal/audit"
	"github.com/tomtom215/fleetrollout/internal/models"
	"github.com/tomtom215/fleetrollout/internal/rollout"
	"github.com/tomtom215/fleetrollout/internal/websocket"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Engine is the rollout surface used by the handlers. *rollout.Engine
// satisfies it.
type Engine interface {
	CreateDeployment(ctx context.Context, spec rollout.DeploymentSpec) (*models.Deployment, error)
	GetDeployment(ctx context.Context, id string) (*models.Deployment, error)
	ListDeployments(ctx context.Context, orgID string) ([]*models.Deployment, error)
	UpdateDraft(ctx context.Context, id string, spec rollout.DeploymentSpec) (*models.Deployment, error)
	Initialize(ctx context.Context, id string) (*rollout.InitializeResult, error)
	Start(ctx context.Context, id string) (*models.Deployment, error)
	Pause(ctx context.Context, id string) (*models.Deployment, error)
	Resume(ctx context.Context, id string) (*models.Deployment, error)
	Cancel(ctx context.Context, id string) (*models.Deployment, error)
	Progress(ctx context.Context, id string) (*models.Progress, error)
	ListItems(ctx context.Context, id string) ([]*models.DeviceWorkItem, error)
	RetryDevice(ctx context.Context, id, deviceID string) (models.RetryOutcome, error)
	Subscribe(id string) (<-chan struct{}, func())
	ActiveDrivers() int
}

// Inventory is the device directory surface. *directory.Directory satisfies it.
type Inventory interface {
	PutDevice(ctx context.Context, dev *models.Device) error
	ListDevices(ctx context.Context, orgID string) ([]*models.Device, error)
	PutGroup(ctx context.Context, g *models.Group) error
	ListGroups(ctx context.Context, orgID string) ([]*models.Group, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// HandlerConfig holds the handler dependencies.
type HandlerConfig struct {
	Engine    Engine
	Inventory Inventory
	Audit     audit.Store
	Hub       *websocket.Hub

	// Heartbeat is the progress stream push interval without changes.
	Heartbeat time.Duration

	// AllowedOrigins restricts websocket upgrades; empty allows same-origin only.
	AllowedOrigins []string

	// Readiness checks run by /health/ready, keyed by dependency name.
	Readiness map[string]ReadinessCheck

	Version string
}

// Handler serves the HTTP API.
type Handler struct {
	engine    Engine
	inventory Inventory
	audit     audit.Store
	hub       *websocket.Hub
	heartbeat time.Duration
	origins   []string
	readiness map[string]ReadinessCheck
	version   string
	startTime time.Time
}

// NewHandler creates a Handler. A nil Hub gets a private one.
func NewHandler(cfg HandlerConfig) *Handler {
	hub := cfg.Hub
	if hub == nil {
		hub = websocket.NewHub()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	return &Handler{
		engine:    cfg.Engine,
		inventory: cfg.Inventory,
		audit:     cfg.Audit,
		hub:       hub,
		heartbeat: cfg.Heartbeat,
		origins:   cfg.AllowedOrigins,
		readiness: cfg.Readiness,
		version:   version,
		startTime: time.Now(),
	}
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
// It writes the error response itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			NewResponseWriter(w, r).BadRequest("request body is required")
		case errors.As(err, &maxErr):
			NewResponseWriter(w, r).BadRequest("request body too large")
		case errors.Is(err, models.ErrRolloutConfig):
			NewResponseWriter(w, r).Error(http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			NewResponseWriter(w, r).BadRequest("invalid JSON body: " + err.Error())
		}
		return false
	}
	return true
}

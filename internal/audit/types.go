// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package audit

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// EventType categorizes audit events.
type EventType string

const (
	EventTypeDeploymentCreated     EventType = "deployment.created"
	EventTypeDeploymentUpdated     EventType = "deployment.updated"
	EventTypeDeploymentInitialized EventType = "deployment.initialized"
	EventTypeDeploymentStarted     EventType = "deployment.started"
	EventTypeDeploymentPaused      EventType = "deployment.paused"
	EventTypeDeploymentResumed     EventType = "deployment.resumed"
	EventTypeFailureThreshold      EventType = "deployment.failure_threshold"
	EventTypeDeploymentCancelled   EventType = "deployment.cancelled"
	EventTypeDeploymentCompleted   EventType = "deployment.completed"
	EventTypeDeploymentFailed      EventType = "deployment.failed"
	EventTypeDeploymentRecovered   EventType = "deployment.recovered"
	EventTypeDeviceRetry           EventType = "device.retry"
)

// Severity indicates the importance of an audit event.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

var severityOrder = map[Severity]int{
	SeverityDebug:    0,
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityError:    3,
	SeverityCritical: 4,
}

// Outcome indicates the result of the audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Actor identifies who triggered the action.
type Actor struct {
	ID   string `json:"id"`
	Type string `json:"type"` // "user" or "system"
}

// SystemActor is the actor for transitions driven by the engine itself.
func SystemActor() Actor {
	return Actor{ID: "system", Type: "system"}
}

// UserActor is the actor for transitions requested through the API.
func UserActor(id string) Actor {
	if id == "" {
		return SystemActor()
	}
	return Actor{ID: id, Type: "user"}
}

// Event is one audit record.
type Event struct {
	ID           string          `json:"id"`
	Timestamp    time.Time       `json:"timestamp"`
	Type         EventType       `json:"type"`
	Severity     Severity        `json:"severity"`
	Outcome      Outcome         `json:"outcome"`
	Actor        Actor           `json:"actor"`
	OrgID        string          `json:"orgId,omitempty"`
	DeploymentID string          `json:"deploymentId"`
	DeviceID     string          `json:"deviceId,omitempty"`
	FromStatus   string          `json:"fromStatus,omitempty"`
	ToStatus     string          `json:"toStatus,omitempty"`
	Description  string          `json:"description,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
}

// Store persists audit events.
type Store interface {
	Save(ctx context.Context, event *Event) error
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)
	Count(ctx context.Context, filter QueryFilter) (int64, error)
}

// QueryFilter narrows an audit query. Zero fields match everything.
type QueryFilter struct {
	DeploymentID string
	OrgID        string
	DeviceID     string
	Types        []EventType
	Since        time.Time
	Until        time.Time
	Limit        int
	Offset       int
}

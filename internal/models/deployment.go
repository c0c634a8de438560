// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// DeploymentStatus is the lifecycle state of a deployment.
type DeploymentStatus string

const (
	DeploymentDraft       DeploymentStatus = "draft"
	DeploymentPending     DeploymentStatus = "pending"
	DeploymentDownloading DeploymentStatus = "downloading"
	DeploymentInstalling  DeploymentStatus = "installing"
	DeploymentPaused      DeploymentStatus = "paused"
	DeploymentCompleted   DeploymentStatus = "completed"
	DeploymentFailed      DeploymentStatus = "failed"
	DeploymentCancelled   DeploymentStatus = "cancelled"
	// DeploymentRollback is accepted when reading persisted rows but never
	// entered by the engine.
	DeploymentRollback DeploymentStatus = "rollback"
)

// IsTerminal reports whether no further transition is possible.
func (s DeploymentStatus) IsTerminal() bool {
	switch s {
	case DeploymentCompleted, DeploymentFailed, DeploymentCancelled, DeploymentRollback:
		return true
	}
	return false
}

// IsRunning reports whether the deployment is in one of the running sub-phases.
func (s DeploymentStatus) IsRunning() bool {
	return s == DeploymentDownloading || s == DeploymentInstalling
}

// IsActive reports whether the deployment has been started and not finished.
func (s DeploymentStatus) IsActive() bool {
	return s.IsRunning() || s == DeploymentPaused
}

// Valid reports whether s is a known status.
func (s DeploymentStatus) Valid() bool {
	switch s {
	case DeploymentDraft, DeploymentPending, DeploymentDownloading, DeploymentInstalling,
		DeploymentPaused, DeploymentCompleted, DeploymentFailed, DeploymentCancelled, DeploymentRollback:
		return true
	}
	return false
}

// PauseReason records why a deployment is paused.
type PauseReason string

const (
	PauseReasonNone             PauseReason = ""
	PauseReasonManual           PauseReason = "manual"
	PauseReasonFailureThreshold PauseReason = "failure_threshold"
)

// Deployment is one rollout campaign pushing a payload to a set of devices.
type Deployment struct {
	ID    string `json:"id"`
	OrgID string `json:"orgId"`

	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`

	TargetType    TargetType    `json:"targetType"`
	TargetConfig  TargetConfig  `json:"targetConfig"`
	Schedule      Schedule      `json:"schedule"`
	RolloutConfig RolloutConfig `json:"rolloutConfig"`

	Status      DeploymentStatus `json:"status"`
	PausedFrom  DeploymentStatus `json:"pausedFrom,omitempty"`
	PauseReason PauseReason      `json:"pauseReason,omitempty"`

	DeviceCount  int        `json:"deviceCount"`
	TotalBatches int        `json:"totalBatches"`
	CurrentBatch int        `json:"currentBatch"`
	NextBatchAt  *time.Time `json:"nextBatchAt,omitempty"`

	// BreakerClearedBatch is the last batch whose failure-threshold pause
	// was resumed by an operator; that batch is not evaluated again.
	BreakerClearedBatch int `json:"breakerClearedBatch,omitempty"`

	CreatedBy   string     `json:"createdBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// Version increases on every persisted write.
	Version uint64 `json:"version"`
}

// Target decodes the deployment's targeting into its typed variant.
func (d *Deployment) Target() (Target, error) {
	return d.TargetConfig.Resolve(d.TargetType)
}

// RespectsMaintenanceWindows reports whether dispatch must wait for each
// device's maintenance window.
func (d *Deployment) RespectsMaintenanceWindows() bool {
	return d.RolloutConfig.RespectMaintenanceWindows || d.Schedule.Type == ScheduleMaintenanceWindow
}

// CommandStatus is the outcome of one dispatch attempt.
type CommandStatus string

const (
	CommandCompleted CommandStatus = "completed"
	CommandFailed    CommandStatus = "failed"
	CommandTimeout   CommandStatus = "timeout"
)

// CommandResult is the outcome payload recorded on a work item.
type CommandResult struct {
	Status     CommandStatus `json:"status"`
	ExitCode   int           `json:"exitCode"`
	Stdout     string        `json:"stdout,omitempty"`
	Stderr     string        `json:"stderr,omitempty"`
	Error      string        `json:"error,omitempty"`
	DurationMs int64         `json:"durationMs"`
	Attempt    int           `json:"attempt"`
}

// Succeeded reports whether the attempt completed successfully.
func (r *CommandResult) Succeeded() bool {
	return r != nil && r.Status == CommandCompleted
}

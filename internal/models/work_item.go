// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package models

import "time"

// ItemStatus is the state of one device within a deployment.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemRunning   ItemStatus = "running"
	ItemCompleted ItemStatus = "completed"
	ItemFailed    ItemStatus = "failed"
	ItemSkipped   ItemStatus = "skipped"
)

// IsOpen reports whether the item still has work outstanding.
func (s ItemStatus) IsOpen() bool {
	return s == ItemPending || s == ItemRunning
}

// DeviceWorkItem is the per-device record of a deployment. It is created
// once at initialization and mutated in place afterwards.
type DeviceWorkItem struct {
	DeploymentID string `json:"deploymentId"`
	DeviceID     string `json:"deviceId"`

	// Seq is the device's position in target resolution order.
	Seq int `json:"seq"`

	// BatchNumber is 1-based; 0 means not yet planned.
	BatchNumber int `json:"batchNumber,omitempty"`

	Status     ItemStatus `json:"status"`
	RetryCount int        `json:"retryCount"`
	MaxRetries int        `json:"maxRetries"`

	// NotBefore delays the next dispatch attempt of a retried item.
	NotBefore *time.Time `json:"notBefore,omitempty"`

	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Result      *CommandResult `json:"result,omitempty"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// CanRetry reports whether a failed item still has retry budget.
func (w *DeviceWorkItem) CanRetry() bool {
	return w.Status == ItemFailed && w.RetryCount < w.MaxRetries
}

// ReadyAt reports whether a pending item's backoff has elapsed at now.
func (w *DeviceWorkItem) ReadyAt(now time.Time) bool {
	return w.NotBefore == nil || !now.Before(*w.NotBefore)
}

// RetryOutcome is returned by an atomic retry-count increment.
type RetryOutcome struct {
	RetryCount int  `json:"retryCount"`
	CanRetry   bool `json:"canRetry"`
	// NotBefore is when the re-queued attempt becomes eligible.
	NotBefore *time.Time `json:"notBefore,omitempty"`
}

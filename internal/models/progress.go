// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package models

import "time"

// StatusCounts counts work items per status.
type StatusCounts struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Add counts one item with status s.
func (c *StatusCounts) Add(s ItemStatus) {
	switch s {
	case ItemPending:
		c.Pending++
	case ItemRunning:
		c.Running++
	case ItemCompleted:
		c.Completed++
	case ItemFailed:
		c.Failed++
	case ItemSkipped:
		c.Skipped++
	}
}

// Total is the number of counted items.
func (c StatusCounts) Total() int {
	return c.Pending + c.Running + c.Completed + c.Failed + c.Skipped
}

// Open is the number of items still pending or running.
func (c StatusCounts) Open() int {
	return c.Pending + c.Running
}

// BatchProgress is the per-batch breakdown of a progress snapshot.
type BatchProgress struct {
	BatchNumber int `json:"batchNumber"`
	StatusCounts
}

// Progress is a read-only snapshot of a deployment's work items.
type Progress struct {
	DeploymentID string           `json:"deploymentId"`
	Status       DeploymentStatus `json:"status"`
	PauseReason  PauseReason      `json:"pauseReason,omitempty"`
	Total        int              `json:"total"`
	ByStatus     StatusCounts     `json:"byStatus"`
	ByBatch      []BatchProgress  `json:"byBatch"`
	CurrentBatch int              `json:"currentBatch"`
	TotalBatches int              `json:"totalBatches"`
	// PercentComplete counts completed, failed and skipped items as done.
	PercentComplete float64    `json:"percentComplete"`
	NextBatchAt     *time.Time `json:"nextBatchAt,omitempty"`
	GeneratedAt     time.Time  `json:"generatedAt"`
}

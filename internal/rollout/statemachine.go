// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package rollout

import (
	"slices"

	"github.com/tomtom215/fleetrollout/internal/models"
)

// Op names a lifecycle operation.
type Op string

const (
	OpUpdate     Op = "update"
	OpInitialize Op = "initialize"
	OpStart      Op = "start"
	OpPause      Op = "pause"
	OpResume     Op = "resume"
	OpCancel     Op = "cancel"
	OpRetry      Op = "retry"
)

// allowedFrom lists the statuses each caller-facing operation is legal in.
var allowedFrom = map[Op][]models.DeploymentStatus{
	OpUpdate:     {models.DeploymentDraft},
	OpInitialize: {models.DeploymentDraft},
	OpStart:      {models.DeploymentPending},
	OpPause:      {models.DeploymentDownloading, models.DeploymentInstalling},
	OpResume:     {models.DeploymentPaused},
	OpCancel: {
		models.DeploymentPending,
		models.DeploymentDownloading,
		models.DeploymentInstalling,
		models.DeploymentPaused,
	},
	OpRetry: {
		models.DeploymentPending,
		models.DeploymentDownloading,
		models.DeploymentInstalling,
		models.DeploymentPaused,
	},
}

// AllowedFrom returns the statuses op may be applied in.
func AllowedFrom(op Op) []models.DeploymentStatus {
	return slices.Clone(allowedFrom[op])
}

// CanApply reports whether op is legal in status from.
func CanApply(op Op, from models.DeploymentStatus) bool {
	return slices.Contains(allowedFrom[op], from)
}

// checkTransition returns a *TransitionError when op is not legal in from.
func checkTransition(op Op, from models.DeploymentStatus) error {
	if !CanApply(op, from) {
		return &TransitionError{Op: op, From: from}
	}
	return nil
}

// resumeTarget is the running sub-phase a paused deployment returns to.
func resumeTarget(d *models.Deployment) models.DeploymentStatus {
	if d.PausedFrom.IsRunning() {
		return d.PausedFrom
	}
	return models.DeploymentInstalling
}

// Rollup decides the terminal status from final item counts. Skipped items
// are ignored; with nothing dispatched the deployment is completed.
func Rollup(counts models.StatusCounts, minSuccessPercent float64) models.DeploymentStatus {
	attempted := counts.Completed + counts.Failed
	if attempted == 0 {
		return models.DeploymentCompleted
	}
	if float64(counts.Completed)*100/float64(attempted) >= minSuccessPercent {
		return models.DeploymentCompleted
	}
	return models.DeploymentFailed
}

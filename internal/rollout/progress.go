// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package rollout

import (
	"math"
	"time"

	"github.com/tomtom215/fleetrollout/internal/models"
)

// ComputeProgress aggregates items into a progress snapshot of d. It does
// not modify its inputs.
func ComputeProgress(d *models.Deployment, items []*models.DeviceWorkItem, now time.Time) models.Progress {
	batches := d.TotalBatches
	for _, it := range items {
		batches = max(batches, it.BatchNumber)
	}

	p := models.Progress{
		DeploymentID: d.ID,
		Status:       d.Status,
		PauseReason:  d.PauseReason,
		Total:        len(items),
		ByBatch:      make([]models.BatchProgress, batches),
		CurrentBatch: d.CurrentBatch,
		TotalBatches: d.TotalBatches,
		NextBatchAt:  d.NextBatchAt,
		GeneratedAt:  now,
	}
	for i := range p.ByBatch {
		p.ByBatch[i].BatchNumber = i + 1
	}

	for _, it := range items {
		p.ByStatus.Add(it.Status)
		if it.BatchNumber > 0 {
			p.ByBatch[it.BatchNumber-1].Add(it.Status)
		}
	}

	switch {
	case p.Total > 0:
		done := p.Total - p.ByStatus.Open()
		p.PercentComplete = math.Round(float64(done)*10000/float64(p.Total)) / 100
	case d.Status.IsTerminal():
		p.PercentComplete = 100
	}
	return p
}

// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package rollout

import "github.com/tomtom215/fleetrollout/internal/models"

// Plan is the batch partition of a resolved device list. Batches[i] holds
// the devices of batch i+1 in resolution order.
type Plan struct {
	Batches [][]string
}

// PlanBatches partitions deviceIDs into batches. Immediate rollouts get one
// batch. Staggered rollouts get consecutive slices of the resolved batch
// size, with the last batch taking the remainder.
func PlanBatches(deviceIDs []string, cfg models.RolloutConfig) Plan {
	if len(deviceIDs) == 0 {
		return Plan{}
	}

	size := len(deviceIDs)
	if cfg.Type == models.RolloutStaggered && cfg.Staggered != nil {
		size = cfg.Staggered.BatchSize.Resolve(len(deviceIDs))
	}

	batches := make([][]string, 0, (len(deviceIDs)+size-1)/size)
	for start := 0; start < len(deviceIDs); start += size {
		end := min(start+size, len(deviceIDs))
		batches = append(batches, deviceIDs[start:end:end])
	}
	return Plan{Batches: batches}
}

// Total is the number of batches.
func (p Plan) Total() int {
	return len(p.Batches)
}

// Assignments maps every device to its 1-based batch number.
func (p Plan) Assignments() map[string]int {
	out := make(map[string]int)
	for i, batch := range p.Batches {
		for _, id := range batch {
			out[id] = i + 1
		}
	}
	return out
}

// WorkItems builds the initial work items for the plan. maxRetries is
// copied onto every item.
func (p Plan) WorkItems(maxRetries int) []*models.DeviceWorkItem {
	var items []*models.DeviceWorkItem
	seq := 0
	for i, batch := range p.Batches {
		for _, id := range batch {
			items = append(items, &models.DeviceWorkItem{
				DeviceID:    id,
				Seq:         seq,
				BatchNumber: i + 1,
				Status:      models.ItemPending,
				MaxRetries:  maxRetries,
			})
			seq++
		}
	}
	return items
}

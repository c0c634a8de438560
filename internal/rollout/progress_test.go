// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package rollout

import (
	"testing"
	"time"

	"github.com/tomtom215/fleetrollout/internal/models"
)

func TestComputeProgress(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d := &models.Deployment{
		ID:           "dep-1",
		Status:       models.DeploymentPaused,
		PauseReason:  models.PauseReasonFailureThreshold,
		TotalBatches: 3,
		CurrentBatch: 1,
	}
	items := []*models.DeviceWorkItem{
		{DeviceID: "a", BatchNumber: 1, Status: models.ItemFailed},
		{DeviceID: "b", BatchNumber: 1, Status: models.ItemFailed},
		{DeviceID: "c", BatchNumber: 1, Status: models.ItemCompleted},
		{DeviceID: "d", BatchNumber: 2, Status: models.ItemPending},
		{DeviceID: "e", BatchNumber: 2, Status: models.ItemPending},
		{DeviceID: "f", BatchNumber: 2, Status: models.ItemPending},
		{DeviceID: "g", BatchNumber: 3, Status: models.ItemPending},
		{DeviceID: "h", BatchNumber: 3, Status: models.ItemRunning},
	}
	before := *items[0]

	p := ComputeProgress(d, items, now)

	if p.Total != 8 {
		t.Errorf("Total = %d, want 8", p.Total)
	}
	wantStatus := models.StatusCounts{Pending: 4, Running: 1, Completed: 1, Failed: 2}
	if p.ByStatus != wantStatus {
		t.Errorf("ByStatus = %+v, want %+v", p.ByStatus, wantStatus)
	}
	if len(p.ByBatch) != 3 {
		t.Fatalf("len(ByBatch) = %d, want 3", len(p.ByBatch))
	}
	if p.ByBatch[0].BatchNumber != 1 || p.ByBatch[0].Failed != 2 || p.ByBatch[0].Completed != 1 {
		t.Errorf("ByBatch[0] = %+v", p.ByBatch[0])
	}
	if p.ByBatch[1].Pending != 3 {
		t.Errorf("ByBatch[1].Pending = %d, want 3", p.ByBatch[1].Pending)
	}
	if p.ByBatch[2].Running != 1 || p.ByBatch[2].Pending != 1 {
		t.Errorf("ByBatch[2] = %+v", p.ByBatch[2])
	}
	if p.CurrentBatch != 1 || p.TotalBatches != 3 {
		t.Errorf("CurrentBatch/TotalBatches = %d/%d, want 1/3", p.CurrentBatch, p.TotalBatches)
	}
	if p.PauseReason != models.PauseReasonFailureThreshold {
		t.Errorf("PauseReason = %q", p.PauseReason)
	}
	if p.PercentComplete != 37.5 {
		t.Errorf("PercentComplete = %v, want 37.5", p.PercentComplete)
	}
	if !p.GeneratedAt.Equal(now) {
		t.Errorf("GeneratedAt = %v, want %v", p.GeneratedAt, now)
	}
	if *items[0] != before {
		t.Error("ComputeProgress mutated its input")
	}
}

func TestComputeProgress_Empty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status  models.DeploymentStatus
		percent float64
	}{
		{models.DeploymentPending, 0},
		{models.DeploymentCompleted, 100},
	}
	for _, tt := range tests {
		p := ComputeProgress(&models.Deployment{ID: "dep-0", Status: tt.status}, nil, time.Now())
		if p.Total != 0 || len(p.ByBatch) != 0 {
			t.Errorf("%s: progress = %+v", tt.status, p)
		}
		if p.PercentComplete != tt.percent {
			t.Errorf("%s: PercentComplete = %v, want %v", tt.status, p.PercentComplete, tt.percent)
		}
	}
}

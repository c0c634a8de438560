// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeGC struct {
	interval time.Duration
	runs     atomic.Int32
	err      error
}

func (f *fakeGC) RunGC() error {
	f.runs.Add(1)
	return f.err
}

func (f *fakeGC) GCInterval() time.Duration { return f.interval }

func TestStoreGCService(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		gc       *fakeGC
		wantRuns bool
	}{
		{"runs on interval", &fakeGC{interval: 10 * time.Millisecond}, true},
		{"keeps running after failure", &fakeGC{interval: 10 * time.Millisecond, err: errors.New("disk full")}, true},
		{"disabled", &fakeGC{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := NewStoreGCService(tt.gc)
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			if err := svc.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("Serve() = %v, want DeadlineExceeded", err)
			}
			runs := tt.gc.runs.Load()
			if tt.wantRuns && runs < 2 {
				t.Errorf("runs = %d, want at least 2", runs)
			}
			if !tt.wantRuns && runs != 0 {
				t.Errorf("runs = %d, want 0", runs)
			}
		})
	}
}

func TestStoreGCService_String(t *testing.T) {
	t.Parallel()
	if got := NewStoreGCService(&fakeGC{}).String(); got != "store-gc" {
		t.Errorf("String() = %q, want store-gc", got)
	}
}

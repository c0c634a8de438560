// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package services

import (
	"context"
	"time"

	"github.com/tomtom215/fleetrollout/internal/logging"
)

// GarbageCollector is satisfied by *store.Store.
type GarbageCollector interface {
	RunGC() error
	GCInterval() time.Duration
}

// StoreGCService runs value-log GC on the store's configured interval.
type StoreGCService struct {
	store GarbageCollector
	name  string
}

// NewStoreGCService creates the GC service for store.
func NewStoreGCService(store GarbageCollector) *StoreGCService {
	return &StoreGCService{store: store, name: "store-gc"}
}

// Serve implements suture.Service. With a zero interval it idles until
// ctx is cancelled.
func (s *StoreGCService) Serve(ctx context.Context) error {
	interval := s.store.GCInterval()
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := s.store.RunGC(); err != nil {
				logging.Warn().Err(err).Msg("Store garbage collection failed")
				continue
			}
			logging.Debug().Dur("duration", time.Since(start)).Msg("Store garbage collection finished")
		}
	}
}

// String implements fmt.Stringer for suture logging.
func (s *StoreGCService) String() string {
	return s.name
}

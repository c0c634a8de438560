// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

// Package audit records deployment lifecycle transitions.
//
// The rollout engine hands events to a Logger and never waits on them. The
// Logger buffers events, persists them in a bounded MemoryStore and publishes
// them on an in-process watermill bus. A Forwarder drains the bus into an
// external message.Publisher, which in production is the NATS publisher from
// NewNATSPublisher.
//
// # Event Types
//
// Deployment events:
//   - deployment.created, deployment.updated
//   - deployment.initialized, deployment.started
//   - deployment.paused, deployment.resumed
//   - deployment.failure_threshold
//   - deployment.cancelled, deployment.completed, deployment.failed
//   - deployment.recovered
//
// Device events:
//   - device.retry
//
// # Delivery
//
// Logging never blocks the caller. When the buffer is full the event is
// dropped, counted in audit_events_dropped_total and a warning is logged.
// Events that reached the buffer are flushed on Close.
//
// # Querying
//
//	events, err := store.Query(ctx, audit.QueryFilter{
//	    DeploymentID: "dep-1",
//	    Limit:        100,
//	})
//
// Query returns events oldest first.
package audit

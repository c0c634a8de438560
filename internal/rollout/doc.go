// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

// Package rollout drives deployments from definition to a terminal status.
//
// # Components
//
//   - ResolveTargets expands a deployment's target into an ordered,
//     deduplicated device list using a DeviceDirectory.
//   - PlanBatches partitions that list into batches.
//   - ShouldRetry and BackoffDelay decide whether and when a failed device
//     is attempted again.
//   - ComputeProgress builds a read-only snapshot from the work items.
//   - Engine exposes the lifecycle operations (initialize, start, pause,
//     resume, cancel, retryDevice, progress) and owns one driver per active
//     deployment.
//
// # State Machine
//
//	draft --initialize--> pending --start--> downloading --> installing
//	installing --(breaker)--> paused
//	downloading|installing --pause--> paused --resume--> downloading|installing
//	pending|downloading|installing|paused --cancel--> cancelled
//	installing --(all items resolved)--> completed|failed
//
// Every transition is a compare-and-set on the persisted status, so two
// concurrent requests can never both succeed.
//
// # Drivers
//
// A driver is a suture.Service that owns one deployment. It holds a lease in
// the store, renews it while running and re-reads durable state on every
// iteration, so a restarted driver continues where the previous one
// stopped. Per-batch dispatch runs in an errgroup bounded by
// Config.MaxConcurrency. Per-device failures are recorded on the work item
// and never stop the driver.
//
// Waits between batches and before retries are interruptible: a pause,
// cancel or manual retry wakes the driver through the change notifier, and
// a poll interval picks up changes made by other processes.
package rollout

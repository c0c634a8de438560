// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

/*
Package models defines the data structures shared by the rollout engine,
the persistence layer and the HTTP API.

Key types:

  - Deployment: one rollout campaign, with its targeting, schedule and
    rollout policy, plus the lifecycle status driven by the engine.
  - DeviceWorkItem: the per-device unit of progress and retry accounting.
  - Progress: the read-only snapshot returned by the progress aggregator.
  - Device, Group, MaintenanceWindow: the device inventory used to resolve targets.

Loosely shaped JSON configuration is decoded into tagged unions once, at the
boundary: TargetConfig resolves to a Target variant, RolloutConfig carries an
optional StaggeredConfig, and BatchSize is either Count(n) or Percent(p).
Everything past decoding works with the typed variants.
*/
package models

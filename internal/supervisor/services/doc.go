// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

/*
Package services provides suture.Service wrappers for Fleet Rollout components.

Each wrapper translates a component lifecycle (ListenAndServe, periodic
maintenance) into suture's context-aware Serve pattern and implements
fmt.Stringer so supervisor events name the service.

# Available Services

HTTPServerService:
  - Wraps *http.Server with graceful shutdown
  - Returns the listen error so suture restarts the server with backoff

StoreGCService:
  - Runs value-log garbage collection of the Badger store on an interval
  - A failed GC pass is logged and retried on the next tick

Deployment drivers and the audit forwarder implement suture.Service
themselves and are added to the tree directly.
*/
package services

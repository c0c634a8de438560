// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

/*
Package main is the entry point for the Fleet Rollout server.

Fleet Rollout pushes software updates, configuration changes and commands
to a fleet of devices in staged batches, tracking every device's work item
and streaming progress to operators.

# Application Architecture

Services run under a Suture v4 supervisor tree:

	RootSupervisor ("fleetrollout")
	├── CoreSupervisor ("core-layer")
	│   ├── Store GC (Badger value-log GC)
	│   └── Audit forwarder (optional, NATS export)
	├── RolloutSupervisor ("rollout-layer")
	│   └── one driver per active deployment, added by the engine
	└── APISupervisor ("api-layer")
	    ├── Progress hub (websocket streams)
	    └── HTTP Server

Component initialization order:

 1. Configuration: Koanf v2 with defaults, config file and environment
 2. Logging: zerolog with JSON or console output
 3. Store: BadgerDB for deployments, work items, leases and inventory
 4. Dispatcher: HTTP agent gateway or in-process simulator
 5. Audit: in-memory store, watermill bus and optional NATS export
 6. Supervisor Tree and Rollout Engine, then recovery of open deployments
 7. HTTP Server: Chi router with middleware stack

# Configuration

See internal/config for every setting. Common environment variables:

	HTTP_PORT=8080
	STORE_PATH=/data/fleetrollout
	DISPATCHER_MODE=simulator   # or http
	DISPATCHER_BASE_URL=http://gateway:9000
	NATS_ENABLED=true
	NATS_URL=nats://nats:4222
	LOG_LEVEL=info

# Signal Handling

SIGINT and SIGTERM cancel the root context. The supervisor stops the HTTP
server (draining in-flight requests), closes progress streams and stops
drivers; drivers leave their deployments in place for recovery on the next
start. The audit logger is flushed and the store closed last.
*/
package main

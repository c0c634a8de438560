// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

/*
Package config provides centralized configuration management for Fleet Rollout.

Configuration is loaded with Koanf v2 in three layers, later layers winning:

 1. Built-in defaults (defaultConfig)
 2. An optional YAML file: CONFIG_PATH, or the first of DefaultConfigPaths that exists
 3. Environment variables, mapped explicitly to config keys by envTransformFunc

Unknown environment variables are ignored so that the process environment
cannot leak into configuration.

# Environment Variables

Server:
  - HTTP_HOST, HTTP_PORT: listen address (default 0.0.0.0:8080)
  - HTTP_READ_TIMEOUT, HTTP_WRITE_TIMEOUT, HTTP_IDLE_TIMEOUT, HTTP_SHUTDOWN_TIMEOUT
  - ENVIRONMENT: development or production
  - WS_HEARTBEAT_INTERVAL: progress websocket heartbeat (default 15s)

Store:
  - STORE_PATH: Badger data directory (default /data/fleetrollout)
  - STORE_IN_MEMORY: keep all state in RAM (default false)
  - STORE_SYNC_WRITES, STORE_GC_INTERVAL

Engine:
  - ENGINE_MAX_CONCURRENCY: per-batch dispatch concurrency (default 16)
  - ENGINE_DISPATCH_TIMEOUT: per-command timeout (default 5m)
  - ENGINE_DELAY_UNIT: length of one configured "minute" (default 1m)
  - ENGINE_CONTROL_POLL_INTERVAL, ENGINE_LEASE_TTL
  - ENGINE_MIN_SUCCESS_PERCENT: completion rollup threshold (default 100)
  - ENGINE_RECOVER_ON_START (default true)

Dispatcher:
  - DISPATCHER_MODE: simulator or http (default simulator)
  - DISPATCHER_BASE_URL, DISPATCHER_TOKEN
  - DISPATCHER_RPS, DISPATCHER_BURST
  - DISPATCHER_BREAKER_MAX_REQUESTS, DISPATCHER_BREAKER_INTERVAL,
    DISPATCHER_BREAKER_TIMEOUT, DISPATCHER_BREAKER_FAILURE_THRESHOLD

Simulator:
  - SIMULATOR_FAILURE_RATE, SIMULATOR_LATENCY, SIMULATOR_SEED

Audit and NATS:
  - AUDIT_BUFFER_SIZE, AUDIT_RETENTION
  - NATS_ENABLED, NATS_URL, NATS_SUBJECT

Security:
  - RATE_LIMIT_REQUESTS, RATE_LIMIT_WINDOW, DISABLE_RATE_LIMIT
  - CORS_ORIGINS: comma-separated origins

Logging:
  - LOG_LEVEL, LOG_FORMAT, LOG_CALLER

# Thread Safety

Config is immutable after Load and safe for concurrent reads.
*/
package config

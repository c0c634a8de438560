// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

/*
Package metrics provides the Prometheus instrumentation for Fleet Rollout.

All collectors are registered with the default registry through promauto and
are exposed by the API server at /metrics:

	curl http://localhost:3857/metrics

# Available Metrics

Rollout engine:
  - rollout_deployment_transitions_total{from,to}
  - rollout_dispatch_total{result}
  - rollout_dispatch_duration_seconds
  - rollout_batches_total{event}
  - rollout_failure_threshold_trips_total
  - rollout_retries_total{outcome}
  - rollout_active_drivers

Store:
  - store_operation_duration_seconds{operation}
  - store_conflict_retries_total{operation}

Dispatcher, audit and HTTP:
  - circuit_breaker_state{name}, circuit_breaker_state_transitions_total{name,from_state,to_state}
  - audit_events_total{type}, audit_events_dropped_total
  - api_requests_total{method,endpoint,status_code}, api_request_duration_seconds{method,endpoint}
  - websocket_connections, websocket_messages_sent_total
*/
package metrics

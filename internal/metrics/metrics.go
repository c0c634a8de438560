// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Rollout Engine Metrics
	DeploymentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_deployment_transitions_total",
			Help: "Total number of deployment status transitions",
		},
		[]string{"from", "to"},
	)

	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_dispatch_total",
			Help: "Total number of device dispatch attempts by result",
		},
		[]string{"result"}, // completed, failed, timeout
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rollout_dispatch_duration_seconds",
			Help:    "Duration of device dispatch attempts in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
	)

	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_batches_total",
			Help: "Total number of batch lifecycle events",
		},
		[]string{"event"}, // started, completed
	)

	FailureThresholdTrips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rollout_failure_threshold_trips_total",
			Help: "Total number of deployments paused by the failure-threshold breaker",
		},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_retries_total",
			Help: "Total number of retry decisions by outcome",
		},
		[]string{"outcome"}, // scheduled, exhausted
	)

	ActiveDrivers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rollout_active_drivers",
			Help: "Current number of running deployment drivers in this process",
		},
	)

	// Store Metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Duration of store transactions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreConflictRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_conflict_retries_total",
			Help: "Total number of transactions retried after a write conflict",
		},
		[]string{"operation"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Audit Metrics
	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Total number of audit events recorded",
		},
		[]string{"type"},
	)

	AuditEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_events_dropped_total",
			Help: "Total number of audit events dropped because the buffer was full",
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active progress WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of progress snapshots pushed over WebSocket",
		},
	)
)

// RecordTransition records a deployment status change.
func RecordTransition(from, to string) {
	DeploymentTransitions.WithLabelValues(from, to).Inc()
}

// RecordDispatch records the outcome and latency of one dispatch attempt.
func RecordDispatch(result string, duration time.Duration) {
	DispatchTotal.WithLabelValues(result).Inc()
	DispatchDuration.Observe(duration.Seconds())
}

// RecordBatch records a batch lifecycle event.
func RecordBatch(event string) {
	BatchesTotal.WithLabelValues(event).Inc()
}

// RecordRetry records a retry decision.
func RecordRetry(scheduled bool) {
	if scheduled {
		RetriesTotal.WithLabelValues("scheduled").Inc()
		return
	}
	RetriesTotal.WithLabelValues("exhausted").Inc()
}

// RecordStoreOperation records a store transaction duration.
func RecordStoreOperation(operation string, duration time.Duration) {
	StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

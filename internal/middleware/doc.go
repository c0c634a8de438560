// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

/*
Package middleware provides HTTP middleware shared by the API router.

Key Components:

  - Request ID: UUID-based request tracking, propagated into the logging
    context so every log line of a request carries request_id and
    correlation_id.
  - Prometheus Metrics: request count and latency, labelled by the chi
    route pattern rather than the raw path so deployment IDs do not explode
    label cardinality.

Middleware Stack:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)        // Layer 1: request tracking
	r.Use(chimiddleware.RealIP)        // Layer 2: client address
	r.Use(chimiddleware.Recoverer)     // Layer 3: panic recovery
	r.Use(middleware.PrometheusMetrics) // Layer 4: instrumentation

Thread Safety:

All middleware is stateless apart from the Prometheus collectors, which are
safe for concurrent use.
*/
package middleware

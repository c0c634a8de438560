// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

/*
Package api exposes the rollout engine over HTTP.

The router is built on go-chi/chi with the chi middleware ecosystem
(go-chi/cors, go-chi/httprate). Every JSON response uses one envelope:

	{"success": true,  "data": ..., "meta": {"request_id": ..., "timestamp": ...}}
	{"success": false, "error": {"code": ..., "message": ..., "details": ..., "request_id": ...}}

Error codes:

  - VALIDATION_ERROR: malformed definition or query (400)
  - BAD_REQUEST: unreadable body (400)
  - NOT_FOUND: unknown deployment, device or group (404)
  - INVALID_TRANSITION: operation not legal in the current status (409);
    details carry op and currentStatus
  - CONFLICT: concurrent modification or duplicate (409)
  - RATE_LIMITED: per-client request budget exhausted (429)
  - SERVICE_UNAVAILABLE: readiness check failed (503)
  - INTERNAL_ERROR: anything else (500)

Routes:

	GET    /api/v1/health/live
	GET    /api/v1/health/ready
	POST   /api/v1/deployments
	GET    /api/v1/deployments?orgId=
	GET    /api/v1/deployments/{id}
	PUT    /api/v1/deployments/{id}
	POST   /api/v1/deployments/{id}/initialize
	POST   /api/v1/deployments/{id}/start
	POST   /api/v1/deployments/{id}/pause
	POST   /api/v1/deployments/{id}/resume
	POST   /api/v1/deployments/{id}/cancel
	GET    /api/v1/deployments/{id}/progress
	GET    /api/v1/deployments/{id}/progress/ws
	GET    /api/v1/deployments/{id}/devices
	POST   /api/v1/deployments/{id}/devices/{deviceId}/retry
	GET    /api/v1/deployments/{id}/audit
	PUT    /api/v1/inventory/devices/{deviceId}
	GET    /api/v1/inventory/devices?orgId=
	PUT    /api/v1/inventory/groups/{groupId}
	GET    /api/v1/inventory/groups?orgId=
	GET    /metrics

The X-Actor-ID request header attributes lifecycle operations in the audit
trail. Authentication is expected to happen in front of this service.
*/
package api

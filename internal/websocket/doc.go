// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

/*
Package websocket streams deployment progress to connected clients.

Each connection follows exactly one deployment. The server pushes a progress
snapshot when the connection opens, whenever the rollout engine signals a
change to that deployment, and at a heartbeat interval. After a snapshot with
a terminal status (completed, failed, cancelled) the server sends a normal
close frame.

Key Components:

  - Client: one websocket connection with a read goroutine and a single writer
  - Hub: registry of active clients, closed on server shutdown
  - Source: snapshot and change-notification provider (*rollout.Engine)

Message Types:

  - progress: a models.Progress snapshot
  - error: the snapshot could not be produced; the connection closes next
  - ping/pong: application-level keepalive initiated by the client

Connection Lifecycle:

 1. The API handler upgrades the request and calls NewClient(...).Run(ctx)
 2. The client registers with the hub and subscribes to change notifications
 3. Snapshots are pushed until a terminal status, a peer close, or shutdown
 4. The client unsubscribes, unregisters and closes the connection

Configuration:

  - writeWait: 10 seconds (time allowed to write a message)
  - pongWait: 60 seconds (time allowed to read a pong)
  - pingPeriod: 54 seconds (protocol ping interval, must be < pongWait)
  - maxMessageSize: 4 KB (clients only send pings)

See Also:

  - github.com/gorilla/websocket: Underlying WebSocket library
  - internal/api: /api/v1/deployments/{id}/progress/ws handler
*/
package websocket

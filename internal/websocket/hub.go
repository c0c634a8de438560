// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package websocket

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/tomtom215/fleetrollout/internal/logging"
	"github.com/tomtom215/fleetrollout/internal/metrics"
)

// ErrHubClosed is returned by Client.Run once the hub has shut down.
var ErrHubClosed = errors.New("progress hub closed")

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful shutdown path.
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline may indicate a hung operation during shutdown.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types for progress streaming
const (
	MessageTypeProgress = "progress"
	MessageTypeError    = "error"
	MessageTypePing     = "ping"
	MessageTypePong     = "pong"
)

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// ErrorData is the payload of an error message.
type ErrorData struct {
	Message string `json:"message"`
}

// Hub tracks the active progress streams. Hijacked connections outlive
// http.Server.Shutdown, so the hub closes them when its Serve context ends.
type Hub struct {
	mu      sync.RWMutex
	clients map[uint64]*Client
	closed  bool
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[uint64]*Client),
	}
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	metrics.WSConnections.Inc()
	logging.Debug().
		Str("deployment_id", c.deploymentID).
		Int("total_clients", len(h.clients)).
		Msg("progress stream connected")
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	metrics.WSConnections.Dec()
	logging.Debug().
		Str("deployment_id", c.deploymentID).
		Int("total_clients", len(h.clients)).
		Msg("progress stream disconnected")
}

// ClientCount returns the number of active streams.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve blocks until ctx is done, then closes every stream and refuses new
// ones. It implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	<-ctx.Done()
	h.Close()
	h.logGracefulShutdown(ctx)
	return ctx.Err()
}

// Close shuts down every active stream in ID order.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	for _, c := range clients {
		c.shutdown()
	}
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	reason := ShutdownReasonContextCanceled
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = ShutdownReasonContextDeadline
	}
	logging.Info().
		Str("component", h.String()).
		Str("reason", string(reason)).
		Msg("progress hub shut down")
}

// String implements fmt.Stringer for suture logging.
func (h *Hub) String() string {
	return "progress-hub"
}

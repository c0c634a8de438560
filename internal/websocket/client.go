// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/fleetrollout/internal/logging"
	"github.com/tomtom215/fleetrollout/internal/metrics"
	"github.com/tomtom215/fleetrollout/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024

	// DefaultHeartbeat is used when a client is created without one.
	DefaultHeartbeat = 5 * time.Second
)

// clientIDCounter generates unique, monotonically increasing IDs for clients.
var clientIDCounter atomic.Uint64

// Source supplies progress snapshots and change notifications for a deployment.
// *rollout.Engine satisfies it.
type Source interface {
	Progress(ctx context.Context, deploymentID string) (*models.Progress, error)
	Subscribe(deploymentID string) (<-chan struct{}, func())
}

// Client streams the progress of one deployment over one websocket connection.
// Only Run writes to the connection; readPump only reads.
type Client struct {
	id           uint64
	hub          *Hub
	conn         *websocket.Conn
	source       Source
	deploymentID string
	heartbeat    time.Duration

	pongs    chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
}

// NewClient creates a Client with a unique ID. A non-positive heartbeat
// falls back to DefaultHeartbeat.
func NewClient(hub *Hub, conn *websocket.Conn, source Source, deploymentID string, heartbeat time.Duration) *Client {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Client{
		id:           clientIDCounter.Add(1),
		hub:          hub,
		conn:         conn,
		source:       source,
		deploymentID: deploymentID,
		heartbeat:    heartbeat,
		pongs:        make(chan struct{}, 1),
		quit:         make(chan struct{}),
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// DeploymentID returns the deployment this client follows.
func (c *Client) DeploymentID() string {
	return c.deploymentID
}

// shutdown asks Run to close the connection. Safe to call more than once.
func (c *Client) shutdown() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// Run pushes a snapshot immediately, then on every change notification and
// every heartbeat, until the deployment reaches a terminal status, the peer
// goes away, ctx is cancelled or the hub shuts down. The connection is
// closed when Run returns.
func (c *Client) Run(ctx context.Context) error {
	defer func() { _ = c.conn.Close() }()

	if !c.hub.register(c) {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		return ErrHubClosed
	}
	defer c.hub.unregister(c)

	// Subscribe before the first snapshot so no change between the two is lost.
	changes, unsubscribe := c.source.Subscribe(c.deploymentID)
	defer unsubscribe()

	readerDone := make(chan struct{})
	go c.readPump(readerDone)

	heartbeat := time.NewTicker(c.heartbeat)
	defer heartbeat.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	if done, err := c.pushSnapshot(ctx); done {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			c.closeWith(websocket.CloseGoingAway, "request cancelled")
			return nil

		case <-c.quit:
			c.closeWith(websocket.CloseGoingAway, "server shutting down")
			return nil

		case <-readerDone:
			return nil

		case <-changes:
			if done, err := c.pushSnapshot(ctx); done {
				return err
			}

		case <-heartbeat.C:
			if done, err := c.pushSnapshot(ctx); done {
				return err
			}

		case <-c.pongs:
			if err := c.write(Message{Type: MessageTypePong}); err != nil {
				return nil
			}

		case <-ping.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return nil
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

// pushSnapshot writes the current progress. done reports that the stream is
// over, either because the snapshot was terminal or because writing failed.
func (c *Client) pushSnapshot(ctx context.Context) (done bool, err error) {
	progress, err := c.source.Progress(ctx, c.deploymentID)
	if err != nil {
		_ = c.write(Message{Type: MessageTypeError, Data: ErrorData{Message: err.Error()}})
		c.closeWith(websocket.CloseInternalServerErr, "progress unavailable")
		return true, err
	}

	if err := c.write(Message{Type: MessageTypeProgress, Data: progress}); err != nil {
		logging.Debug().Err(err).Str("deployment_id", c.deploymentID).Msg("progress stream write failed")
		return true, nil
	}
	metrics.WSMessagesSent.Inc()

	if progress.Status.IsTerminal() {
		c.closeWith(websocket.CloseNormalClosure, "deployment finished")
		return true, nil
	}
	return false, nil
}

func (c *Client) write(msg Message) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

func (c *Client) closeWith(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		logging.Debug().Err(err).Msg("failed to write close message")
	}
}

// readPump drains the connection so control frames are processed, answers
// application-level pings, and closes done when the peer goes away.
func (c *Client) readPump(done chan<- struct{}) {
	defer close(done)

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Str("deployment_id", c.deploymentID).Msg("unexpected websocket close error")
			}
			return
		}

		if msg.Type == MessageTypePing {
			select {
			case c.pongs <- struct{}{}:
			default:
			}
		}
	}
}

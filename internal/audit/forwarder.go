// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/fleetrollout/internal/logging"
)

// Forwarder copies every bus event to an external publisher. It implements
// suture.Service.
type Forwarder struct {
	bus       *Bus
	publisher message.Publisher
	subject   string
	ready     chan struct{}
	readyOnce sync.Once
}

// NewForwarder creates a forwarder publishing to subject on publisher.
func NewForwarder(bus *Bus, publisher message.Publisher, subject string) *Forwarder {
	return &Forwarder{bus: bus, publisher: publisher, subject: subject, ready: make(chan struct{})}
}

// Ready is closed once the forwarder has subscribed to the bus. Events
// published before that are not forwarded.
func (f *Forwarder) Ready() <-chan struct{} {
	return f.ready
}

// Serve forwards events until ctx is cancelled or the bus is closed.
func (f *Forwarder) Serve(ctx context.Context) error {
	msgs, err := f.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to audit bus: %w", err)
	}
	f.readyOnce.Do(func() { close(f.ready) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return suture.ErrDoNotRestart
			}
			f.forward(msg)
			msg.Ack()
		}
	}
}

// forward publishes one message. Failures are logged and the event is
// dropped; the local store keeps its copy.
func (f *Forwarder) forward(msg *message.Message) {
	out := msg.Copy()
	if out.Metadata.Get(natsgo.MsgIdHdr) == "" {
		out.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}

	if err := f.publisher.Publish(f.subject, out); err != nil {
		logging.Warn().
			Err(err).
			Str("event_id", msg.UUID).
			Str("subject", f.subject).
			Msg("Failed to forward audit event")
	}
}

// String implements fmt.Stringer for suture logging.
func (f *Forwarder) String() string {
	return "audit-forwarder"
}

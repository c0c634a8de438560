// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package audit

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
)

// Topic is the in-process topic audit events are published on.
const Topic = "audit.events"

// Metadata keys set on every bus message.
const (
	MetadataEventType    = "event_type"
	MetadataDeploymentID = "deployment_id"
	MetadataOrgID        = "org_id"
)

// Bus is an in-process watermill pub/sub carrying audit events. Publishing
// never waits for subscribers.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates a bus whose subscriber channels hold buffer messages.
func NewBus(buffer int64, logger watermill.LoggerAdapter) *Bus {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: buffer,
		}, logger),
	}
}

// Publish serializes event and publishes it on Topic.
func (b *Bus) Publish(event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set(MetadataEventType, string(event.Type))
	msg.Metadata.Set(MetadataDeploymentID, event.DeploymentID)
	msg.Metadata.Set(MetadataOrgID, event.OrgID)

	return b.pubsub.Publish(Topic, msg)
}

// Subscribe returns a channel of bus messages. Every message must be acked
// before the next one is delivered. The channel closes when ctx is done.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, Topic)
}

// Close stops the bus and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// DecodeEvent parses a bus message payload.
func DecodeEvent(msg *message.Message) (*Event, error) {
	var e Event
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return nil, fmt.Errorf("decode audit event %s: %w", msg.UUID, err)
	}
	return &e, nil
}

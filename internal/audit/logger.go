// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/fleetrollout/internal/logging"
	"github.com/tomtom215/fleetrollout/internal/metrics"
	"github.com/tomtom215/fleetrollout/internal/models"
)

// Config holds configuration for the audit logger.
type Config struct {
	// MinSeverity filters out less important events.
	MinSeverity Severity `json:"min_severity"`

	// BufferSize is the size of the async write buffer.
	BufferSize int `json:"buffer_size"`

	// LogToStdout also writes events through the application logger.
	LogToStdout bool `json:"log_to_stdout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MinSeverity: SeverityInfo,
		BufferSize:  1024,
	}
}

// Logger buffers events and writes them to a Store and an optional Bus.
type Logger struct {
	config    *Config
	store     Store
	bus       *Bus
	eventChan chan *Event
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewLogger creates a logger and starts its writer goroutine. bus may be nil.
func NewLogger(store Store, bus *Bus, config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.MinSeverity == "" {
		config.MinSeverity = SeverityInfo
	}

	l := &Logger{
		config:    config,
		store:     store,
		bus:       bus,
		eventChan: make(chan *Event, config.BufferSize),
		stopChan:  make(chan struct{}),
	}

	l.wg.Add(1)
	go l.asyncWriter()

	return l
}

func (l *Logger) asyncWriter() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopChan:
			for {
				select {
				case event := <-l.eventChan:
					l.writeEvent(event)
				default:
					return
				}
			}
		case event := <-l.eventChan:
			l.writeEvent(event)
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	metrics.AuditEventsTotal.WithLabelValues(string(event.Type)).Inc()

	if l.config.LogToStdout {
		data, err := json.Marshal(event)
		if err == nil {
			logging.Info().RawJSON("event", data).Msg("Audit event")
		}
	}

	if l.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := l.store.Save(ctx, event); err != nil {
			logging.Error().Err(err).Str("event_id", event.ID).Msg("Failed to save audit event")
		}
	}

	if l.bus != nil {
		if err := l.bus.Publish(event); err != nil {
			logging.Warn().Err(err).Str("event_id", event.ID).Msg("Failed to publish audit event")
		}
	}
}

// Log records an event without blocking. A full buffer drops the event.
func (l *Logger) Log(event *Event) {
	if event == nil || severityOrder[event.Severity] < severityOrder[l.config.MinSeverity] {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case <-l.stopChan:
		return
	default:
	}

	select {
	case l.eventChan <- event:
	default:
		metrics.AuditEventsDropped.Inc()
		logging.Warn().
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("Audit event buffer full, dropping event")
	}
}

// Close flushes buffered events and stops the writer. It is idempotent.
func (l *Logger) Close() error {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()
	return nil
}

// DeploymentEvent builds an event describing a transition of dep. from is
// the status before the transition and may equal dep.Status.
func DeploymentEvent(ctx context.Context, typ EventType, actor Actor, dep *models.Deployment, from models.DeploymentStatus, metadata any) *Event {
	e := &Event{
		Type:         typ,
		Severity:     severityFor(typ),
		Outcome:      OutcomeSuccess,
		Actor:        actor,
		OrgID:        dep.OrgID,
		DeploymentID: dep.ID,
		FromStatus:   string(from),
		ToStatus:     string(dep.Status),
		Description:  describe(typ, dep),
		RequestID:    logging.RequestIDFromContext(ctx),
	}
	if metadata != nil {
		e.Metadata = mustJSON(metadata)
	}
	return e
}

// DeviceRetryEvent builds the event for a manual or automatic device retry.
func DeviceRetryEvent(ctx context.Context, actor Actor, deploymentID, orgID, deviceID string, outcome models.RetryOutcome) *Event {
	e := &Event{
		Type:         EventTypeDeviceRetry,
		Severity:     SeverityInfo,
		Outcome:      OutcomeSuccess,
		Actor:        actor,
		OrgID:        orgID,
		DeploymentID: deploymentID,
		DeviceID:     deviceID,
		Description:  "device re-queued",
		Metadata:     mustJSON(outcome),
		RequestID:    logging.RequestIDFromContext(ctx),
	}
	if !outcome.CanRetry {
		e.Outcome = OutcomeFailure
		e.Severity = SeverityWarning
		e.Description = "device retry budget exhausted"
	}
	return e
}

func severityFor(typ EventType) Severity {
	switch typ {
	case EventTypeFailureThreshold, EventTypeDeploymentFailed, EventTypeDeploymentRecovered:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func describe(typ EventType, dep *models.Deployment) string {
	switch typ {
	case EventTypeFailureThreshold:
		return "deployment paused after exceeding its failure threshold"
	case EventTypeDeploymentRecovered:
		return "deployment driver resumed after restart"
	default:
		return "deployment " + string(dep.Status)
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

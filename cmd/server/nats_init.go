// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package main

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/fleetrollout/internal/audit"
	"github.com/tomtom215/fleetrollout/internal/config"
	"github.com/tomtom215/fleetrollout/internal/logging"
)

// coreServiceAdder is the part of the supervisor tree audit export needs.
type coreServiceAdder interface {
	AddCoreService(svc suture.Service) suture.ServiceToken
}

// auditExport owns the NATS publisher behind the audit forwarder.
type auditExport struct {
	publisher message.Publisher
	forwarder *audit.Forwarder
}

// Close closes the publisher. Safe on a nil or disabled export.
func (e *auditExport) Close() {
	if e == nil || e.publisher == nil {
		return
	}
	if err := e.publisher.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing NATS audit publisher")
	}
}

// Enabled reports whether events are exported.
func (e *auditExport) Enabled() bool {
	return e != nil && e.forwarder != nil
}

// initAuditExport connects the NATS publisher and registers the forwarder
// in the core layer when NATS export is enabled.
func initAuditExport(cfg *config.Config, bus *audit.Bus, tree coreServiceAdder, logger watermill.LoggerAdapter) (*auditExport, error) {
	return initAuditExportWith(cfg, bus, tree, func(url string) (message.Publisher, error) {
		return audit.NewNATSPublisher(audit.DefaultNATSConfig(url), logger)
	})
}

func initAuditExportWith(cfg *config.Config, bus *audit.Bus, tree coreServiceAdder, connect func(url string) (message.Publisher, error)) (*auditExport, error) {
	if !cfg.NATS.Enabled {
		logging.Info().Msg("Audit export disabled (NATS_ENABLED=false)")
		return &auditExport{}, nil
	}

	pub, err := connect(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("connect NATS publisher: %w", err)
	}

	fwd := audit.NewForwarder(bus, pub, cfg.NATS.Subject)
	tree.AddCoreService(fwd)

	logging.Info().
		Str("url", cfg.NATS.URL).
		Str("subject", cfg.NATS.Subject).
		Msg("Audit export to NATS enabled")

	return &auditExport{publisher: pub, forwarder: fwd}, nil
}

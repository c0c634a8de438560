// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package config

import (
	"fmt"
	"net/url"
	"slices"
	"time"
)

// Validate checks that configuration values are present and within range.
// It returns the first violation, naming the environment variable.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateStore,
		c.validateEngine,
		c.validateDispatcher,
		c.validateSimulator,
		c.validateAudit,
		c.validateNATS,
		c.validateSecurity,
		c.validateLogging,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.Server.Environment != "development" && c.Server.Environment != "production" {
		return fmt.Errorf("ENVIRONMENT must be development or production")
	}
	if c.Server.HeartbeatInterval <= 0 {
		return fmt.Errorf("WS_HEARTBEAT_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) validateStore() error {
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("STORE_PATH is required unless STORE_IN_MEMORY=true")
	}
	if c.Store.GCInterval < 0 {
		return fmt.Errorf("STORE_GC_INTERVAL must not be negative")
	}
	if c.Store.GCRatio <= 0 || c.Store.GCRatio >= 1 {
		return fmt.Errorf("STORE_GC_RATIO must be between 0 and 1 (exclusive)")
	}
	return nil
}

// Engine bounds
const (
	maxEngineConcurrency = 1024
	minLeaseTTL          = time.Second
)

func (c *Config) validateEngine() error {
	e := c.Engine
	if e.MaxConcurrency < 1 || e.MaxConcurrency > maxEngineConcurrency {
		return fmt.Errorf("ENGINE_MAX_CONCURRENCY must be between 1 and %d", maxEngineConcurrency)
	}
	if e.DispatchTimeout <= 0 {
		return fmt.Errorf("ENGINE_DISPATCH_TIMEOUT must be positive")
	}
	if e.DelayUnit <= 0 {
		return fmt.Errorf("ENGINE_DELAY_UNIT must be positive")
	}
	if e.ControlPollInterval <= 0 {
		return fmt.Errorf("ENGINE_CONTROL_POLL_INTERVAL must be positive")
	}
	if e.LeaseTTL < minLeaseTTL {
		return fmt.Errorf("ENGINE_LEASE_TTL must be at least %v", minLeaseTTL)
	}
	if e.MinSuccessPercent < 0 || e.MinSuccessPercent > 100 {
		return fmt.Errorf("ENGINE_MIN_SUCCESS_PERCENT must be between 0 and 100")
	}
	return nil
}

func (c *Config) validateDispatcher() error {
	d := c.Dispatcher
	switch d.Mode {
	case "simulator":
		return nil
	case "http":
	default:
		return fmt.Errorf("DISPATCHER_MODE must be simulator or http")
	}

	if d.BaseURL == "" {
		return fmt.Errorf("DISPATCHER_BASE_URL is required when DISPATCHER_MODE=http")
	}
	u, err := url.Parse(d.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("DISPATCHER_BASE_URL must be an http(s) URL")
	}
	if d.RequestsPerSecond <= 0 {
		return fmt.Errorf("DISPATCHER_RPS must be positive")
	}
	if d.Burst < 1 {
		return fmt.Errorf("DISPATCHER_BURST must be at least 1")
	}
	if d.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("DISPATCHER_BREAKER_FAILURE_THRESHOLD must be at least 1")
	}
	if d.Breaker.Timeout <= 0 {
		return fmt.Errorf("DISPATCHER_BREAKER_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateSimulator() error {
	if c.Simulator.FailureRate < 0 || c.Simulator.FailureRate > 1 {
		return fmt.Errorf("SIMULATOR_FAILURE_RATE must be between 0 and 1")
	}
	if c.Simulator.Latency < 0 {
		return fmt.Errorf("SIMULATOR_LATENCY must not be negative")
	}
	return nil
}

func (c *Config) validateAudit() error {
	if c.Audit.BufferSize < 1 {
		return fmt.Errorf("AUDIT_BUFFER_SIZE must be at least 1")
	}
	if c.Audit.Retention < 1 {
		return fmt.Errorf("AUDIT_RETENTION must be at least 1")
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("NATS_URL is required when NATS_ENABLED=true")
	}
	if c.NATS.Subject == "" {
		return fmt.Errorf("NATS_SUBJECT is required when NATS_ENABLED=true")
	}
	return nil
}

// Rate limit constants
const (
	minRateLimitRequests = 1
	maxRateLimitRequests = 100000
	minRateLimitWindow   = time.Second
	maxRateLimitWindow   = time.Hour
)

func (c *Config) validateSecurity() error {
	if c.IsProduction() && slices.Contains(c.Security.CORSOrigins, "*") {
		return fmt.Errorf("CORS_ORIGINS=* (wildcard) is not allowed in production; set explicit origins")
	}
	if c.Security.RateLimitDisabled {
		return nil
	}
	if c.Security.RateLimitReqs < minRateLimitRequests || c.Security.RateLimitReqs > maxRateLimitRequests {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be between %d and %d", minRateLimitRequests, maxRateLimitRequests)
	}
	if c.Security.RateLimitWindow < minRateLimitWindow || c.Security.RateLimitWindow > maxRateLimitWindow {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be between %v and %v", minRateLimitWindow, maxRateLimitWindow)
	}
	return nil
}

var validLogLevels = []string{"trace", "debug", "info", "warn", "error"}

func (c *Config) validateLogging() error {
	if !slices.Contains(validLogLevels, c.Logging.Level) {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("LOG_FORMAT must be json or console")
	}
	return nil
}

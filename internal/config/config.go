// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Store      StoreConfig      `koanf:"store"`
	Engine     EngineConfig     `koanf:"engine"`
	Dispatcher DispatcherConfig `koanf:"dispatcher"`
	Simulator  SimulatorConfig  `koanf:"simulator"`
	Audit      AuditConfig      `koanf:"audit"`
	NATS       NATSConfig       `koanf:"nats"`
	Security   SecurityConfig   `koanf:"security"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment"` // "development" or "production"

	// HeartbeatInterval is how often the progress websocket pushes a snapshot
	// when nothing changed.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StoreConfig holds Badger settings.
type StoreConfig struct {
	Path         string        `koanf:"path"`
	InMemory     bool          `koanf:"in_memory"`
	SyncWrites   bool          `koanf:"sync_writes"`
	Compression  bool          `koanf:"compression"`
	GCInterval   time.Duration `koanf:"gc_interval"`
	GCRatio      float64       `koanf:"gc_ratio"`
	CloseTimeout time.Duration `koanf:"close_timeout"`
}

// EngineConfig holds rollout engine settings.
type EngineConfig struct {
	// MaxConcurrency bounds concurrent dispatches within one batch.
	MaxConcurrency int `koanf:"max_concurrency"`

	// DispatchTimeout is the deadline of a single command dispatch.
	DispatchTimeout time.Duration `koanf:"dispatch_timeout"`

	// DelayUnit is the real duration of one configured minute (batch delay
	// and retry backoff). Shortened in tests and demos.
	DelayUnit time.Duration `koanf:"delay_unit"`

	// ControlPollInterval bounds how long a driver waits before rereading
	// the deployment when no change notification arrives.
	ControlPollInterval time.Duration `koanf:"control_poll_interval"`

	// LeaseTTL is the lifetime of a driver's lease; it is renewed at a third of it.
	LeaseTTL time.Duration `koanf:"lease_ttl"`

	// MinSuccessPercent is the share of dispatched devices that must
	// complete for the deployment to end completed rather than failed.
	MinSuccessPercent float64 `koanf:"min_success_percent"`

	// RecoverOnStart resumes non-terminal deployments at startup.
	RecoverOnStart bool `koanf:"recover_on_start"`
}

// DispatcherConfig selects and tunes the command dispatcher.
type DispatcherConfig struct {
	Mode              string        `koanf:"mode"` // "simulator" or "http"
	BaseURL           string        `koanf:"base_url"`
	Token             string        `koanf:"token"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
	Breaker           BreakerConfig `koanf:"breaker"`
}

// BreakerConfig tunes the dispatcher's circuit breaker.
type BreakerConfig struct {
	MaxRequests      uint32        `koanf:"max_requests"`
	Interval         time.Duration `koanf:"interval"`
	Timeout          time.Duration `koanf:"timeout"`
	FailureThreshold uint32        `koanf:"failure_threshold"`
}

// SimulatorConfig tunes the in-process simulated dispatcher.
type SimulatorConfig struct {
	FailureRate float64       `koanf:"failure_rate"`
	Latency     time.Duration `koanf:"latency"`
	Seed        uint64        `koanf:"seed"`
}

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	BufferSize int `koanf:"buffer_size"`
	// Retention is how many events the in-memory audit store keeps.
	Retention int `koanf:"retention"`
}

// NATSConfig enables export of audit events to NATS.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

// SecurityConfig holds inbound request protections.
type SecurityConfig struct {
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig holds logging settings.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: true/false - include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Load reads configuration from defaults, an optional config file and the
// environment. See LoadWithKoanf.
func Load() (*Config, error) {
	return LoadWithKoanf()
}

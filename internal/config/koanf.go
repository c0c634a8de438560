// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/fleetrollout/config.yaml",
	"/etc/fleetrollout/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8080,
			Host:              "0.0.0.0",
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			Environment:       "development",
			HeartbeatInterval: 15 * time.Second,
		},
		Store: StoreConfig{
			Path:         "/data/fleetrollout",
			InMemory:     false,
			SyncWrites:   true,
			Compression:  true,
			GCInterval:   10 * time.Minute,
			GCRatio:      0.5,
			CloseTimeout: 30 * time.Second,
		},
		Engine: EngineConfig{
			MaxConcurrency:      16,
			DispatchTimeout:     5 * time.Minute,
			DelayUnit:           time.Minute,
			ControlPollInterval: 2 * time.Second,
			LeaseTTL:            30 * time.Second,
			MinSuccessPercent:   100,
			RecoverOnStart:      true,
		},
		Dispatcher: DispatcherConfig{
			Mode:              "simulator",
			RequestsPerSecond: 50,
			Burst:             10,
			Breaker: BreakerConfig{
				MaxRequests:      3,
				Interval:         time.Minute,
				Timeout:          30 * time.Second,
				FailureThreshold: 5,
			},
		},
		Simulator: SimulatorConfig{
			FailureRate: 0.05,
			Latency:     500 * time.Millisecond,
		},
		Audit: AuditConfig{
			BufferSize: 1024,
			Retention:  10000,
		},
		NATS: NATSConfig{
			Enabled: false,
			URL:     "nats://127.0.0.1:4222",
			Subject: "fleetrollout.audit",
		},
		Security: SecurityConfig{
			RateLimitReqs:     100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
			CORSOrigins:       []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in defaults
//  2. Config File: optional YAML config file (if exists)
//  3. Environment Variables: override any setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// ENGINE_MAX_CONCURRENCY -> engine.max_concurrency
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
var envMappings = map[string]string{
	// Server mappings
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_idle_timeout":     "server.idle_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"environment":           "server.environment",
	"ws_heartbeat_interval": "server.heartbeat_interval",

	// Store mappings
	"store_path":          "store.path",
	"store_in_memory":     "store.in_memory",
	"store_sync_writes":   "store.sync_writes",
	"store_compression":   "store.compression",
	"store_gc_interval":   "store.gc_interval",
	"store_gc_ratio":      "store.gc_ratio",
	"store_close_timeout": "store.close_timeout",

	// Engine mappings
	"engine_max_concurrency":       "engine.max_concurrency",
	"engine_dispatch_timeout":      "engine.dispatch_timeout",
	"engine_delay_unit":            "engine.delay_unit",
	"engine_control_poll_interval": "engine.control_poll_interval",
	"engine_lease_ttl":             "engine.lease_ttl",
	"engine_min_success_percent":   "engine.min_success_percent",
	"engine_recover_on_start":      "engine.recover_on_start",

	// Dispatcher mappings
	"dispatcher_mode":                      "dispatcher.mode",
	"dispatcher_base_url":                  "dispatcher.base_url",
	"dispatcher_token":                     "dispatcher.token",
	"dispatcher_rps":                       "dispatcher.requests_per_second",
	"dispatcher_burst":                     "dispatcher.burst",
	"dispatcher_breaker_max_requests":      "dispatcher.breaker.max_requests",
	"dispatcher_breaker_interval":          "dispatcher.breaker.interval",
	"dispatcher_breaker_timeout":           "dispatcher.breaker.timeout",
	"dispatcher_breaker_failure_threshold": "dispatcher.breaker.failure_threshold",

	// Simulator mappings
	"simulator_failure_rate": "simulator.failure_rate",
	"simulator_latency":      "simulator.latency",
	"simulator_seed":         "simulator.seed",

	// Audit mappings
	"audit_buffer_size": "audit.buffer_size",
	"audit_retention":   "audit.retention",

	// NATS mappings
	"nats_enabled": "nats.enabled",
	"nats_url":     "nats.url",
	"nats_subject": "nats.subject",

	// Security mappings
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"cors_origins":        "security.cors_origins",

	// Logging mappings
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - ENGINE_DELAY_UNIT -> engine.delay_unit
//   - DISPATCHER_RPS -> dispatcher.requests_per_second
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}

	// Unmapped keys are skipped so random environment variables cannot
	// pollute the config.
	return ""
}

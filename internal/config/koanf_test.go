// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate runs the test in an empty directory with no config file override.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(ConfigPathEnvVar, "")
	return dir
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("Server.Addr() = %q, want 0.0.0.0:8080", cfg.Server.Addr())
	}
	if cfg.Engine.MaxConcurrency != 16 {
		t.Errorf("Engine.MaxConcurrency = %d, want 16", cfg.Engine.MaxConcurrency)
	}
	if cfg.Engine.DelayUnit != time.Minute {
		t.Errorf("Engine.DelayUnit = %v, want 1m", cfg.Engine.DelayUnit)
	}
	if cfg.Engine.MinSuccessPercent != 100 {
		t.Errorf("Engine.MinSuccessPercent = %v, want 100", cfg.Engine.MinSuccessPercent)
	}
	if !cfg.Engine.RecoverOnStart {
		t.Error("Engine.RecoverOnStart should be true by default")
	}
	if cfg.Dispatcher.Mode != "simulator" {
		t.Errorf("Dispatcher.Mode = %q, want simulator", cfg.Dispatcher.Mode)
	}
	if cfg.NATS.Enabled {
		t.Error("NATS.Enabled should be false by default")
	}
	if len(cfg.Security.CORSOrigins) != 1 || cfg.Security.CORSOrigins[0] != "*" {
		t.Errorf("Security.CORSOrigins = %v, want [*]", cfg.Security.CORSOrigins)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig().Validate() = %v, want nil", err)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"HTTP_PORT", "server.port"},
		{"ENVIRONMENT", "server.environment"},
		{"STORE_PATH", "store.path"},
		{"STORE_IN_MEMORY", "store.in_memory"},
		{"ENGINE_MAX_CONCURRENCY", "engine.max_concurrency"},
		{"ENGINE_DELAY_UNIT", "engine.delay_unit"},
		{"ENGINE_MIN_SUCCESS_PERCENT", "engine.min_success_percent"},
		{"DISPATCHER_RPS", "dispatcher.requests_per_second"},
		{"DISPATCHER_BREAKER_FAILURE_THRESHOLD", "dispatcher.breaker.failure_threshold"},
		{"SIMULATOR_FAILURE_RATE", "simulator.failure_rate"},
		{"NATS_SUBJECT", "nats.subject"},
		{"RATE_LIMIT_REQUESTS", "security.rate_limit_reqs"},
		{"DISABLE_RATE_LIMIT", "security.rate_limit_disabled"},
		{"LOG_LEVEL", "logging.level"},
		{"log_format", "logging.format"},

		{"RANDOM_VAR", ""},
		{"PATH", ""},
		{"HOME", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := envTransformFunc(tt.input); got != tt.expected {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFindConfigFile(t *testing.T) {
	dir := isolate(t)

	t.Run("no config file exists", func(t *testing.T) {
		if got := findConfigFile(); got != "" {
			t.Errorf("findConfigFile() = %q, want empty string", got)
		}
	})

	t.Run("config.yaml in working directory", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  port: 9000\n"), 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		if got := findConfigFile(); got != "config.yaml" {
			t.Errorf("findConfigFile() = %q, want config.yaml", got)
		}
	})

	t.Run("CONFIG_PATH wins", func(t *testing.T) {
		custom := filepath.Join(dir, "custom.yml")
		if err := os.WriteFile(custom, []byte("{}\n"), 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		t.Setenv(ConfigPathEnvVar, custom)
		if got := findConfigFile(); got != custom {
			t.Errorf("findConfigFile() = %q, want %q", got, custom)
		}
	})

	t.Run("missing CONFIG_PATH falls back", func(t *testing.T) {
		t.Setenv(ConfigPathEnvVar, filepath.Join(dir, "nope.yaml"))
		if got := findConfigFile(); got != "config.yaml" {
			t.Errorf("findConfigFile() = %q, want config.yaml", got)
		}
	})
}

func TestLoadWithKoanfEnvVars(t *testing.T) {
	isolate(t)
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("STORE_IN_MEMORY", "true")
	t.Setenv("ENGINE_DELAY_UNIT", "250ms")
	t.Setenv("ENGINE_MIN_SUCCESS_PERCENT", "90.5")
	t.Setenv("SIMULATOR_SEED", "42")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if !cfg.Store.InMemory {
		t.Error("Store.InMemory = false, want true")
	}
	if cfg.Engine.DelayUnit != 250*time.Millisecond {
		t.Errorf("Engine.DelayUnit = %v, want 250ms", cfg.Engine.DelayUnit)
	}
	if cfg.Engine.MinSuccessPercent != 90.5 {
		t.Errorf("Engine.MinSuccessPercent = %v, want 90.5", cfg.Engine.MinSuccessPercent)
	}
	if cfg.Simulator.Seed != 42 {
		t.Errorf("Simulator.Seed = %d, want 42", cfg.Simulator.Seed)
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.Security.CORSOrigins) != 2 || cfg.Security.CORSOrigins[0] != want[0] || cfg.Security.CORSOrigins[1] != want[1] {
		t.Errorf("Security.CORSOrigins = %v, want %v", cfg.Security.CORSOrigins, want)
	}
}

const testConfigYAML = `
server:
  port: 7000
engine:
  max_concurrency: 4
  lease_ttl: 10s
dispatcher:
  mode: http
  base_url: https://agents.example/api
  breaker:
    failure_threshold: 2
nats:
  enabled: true
  url: nats://nats:4222
`

func TestLoadWithKoanfConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(testConfigYAML), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000", cfg.Server.Port)
	}
	if cfg.Engine.MaxConcurrency != 4 || cfg.Engine.LeaseTTL != 10*time.Second {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
	if cfg.Dispatcher.Mode != "http" || cfg.Dispatcher.BaseURL != "https://agents.example/api" {
		t.Errorf("Dispatcher = %+v", cfg.Dispatcher)
	}
	if cfg.Dispatcher.Breaker.FailureThreshold != 2 {
		t.Errorf("Breaker.FailureThreshold = %d, want 2", cfg.Dispatcher.Breaker.FailureThreshold)
	}
	// Untouched keys keep defaults.
	if cfg.Dispatcher.Breaker.Timeout != 30*time.Second {
		t.Errorf("Breaker.Timeout = %v, want default 30s", cfg.Dispatcher.Breaker.Timeout)
	}
	if cfg.NATS.Subject != "fleetrollout.audit" {
		t.Errorf("NATS.Subject = %q, want default", cfg.NATS.Subject)
	}
}

func TestLoadWithKoanfEnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(testConfigYAML), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("HTTP_PORT", "7100")
	t.Setenv("DISPATCHER_MODE", "simulator")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Server.Port != 7100 {
		t.Errorf("Server.Port = %d, want env value 7100", cfg.Server.Port)
	}
	if cfg.Dispatcher.Mode != "simulator" {
		t.Errorf("Dispatcher.Mode = %q, want env value simulator", cfg.Dispatcher.Mode)
	}
	if cfg.Engine.MaxConcurrency != 4 {
		t.Errorf("Engine.MaxConcurrency = %d, want file value 4", cfg.Engine.MaxConcurrency)
	}
}

func TestLoadWithKoanfValidation(t *testing.T) {
	isolate(t)
	t.Setenv("ENGINE_MAX_CONCURRENCY", "0")

	if _, err := LoadWithKoanf(); err == nil {
		t.Error("LoadWithKoanf() with zero concurrency should fail validation")
	}
}

func TestLoadWithKoanfBadFile(t *testing.T) {
	dir := isolate(t)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: [unclosed\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadWithKoanf(); err == nil {
		t.Error("LoadWithKoanf() with malformed YAML should fail")
	}
}

// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package models

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"
)

func TestBatchSizeUnmarshal(t *testing.T) {
	tests := []struct {
		input       string
		wantPercent bool
		wantString  string
		wantErr     bool
	}{
		{`3`, false, "3", false},
		{`"3"`, false, "3", false},
		{`"10%"`, true, "10%", false},
		{`"12.5%"`, true, "12.5%", false},
		{`" 50 % "`, true, "50%", false},
		{`"ten"`, false, "", true},
		{`"x%"`, false, "", true},
		{`1.5`, false, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var b BatchSize
			err := json.Unmarshal([]byte(tt.input), &b)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s, got %v", tt.input, b)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", tt.input, err)
			}
			if b.IsPercent() != tt.wantPercent {
				t.Errorf("IsPercent() = %v, want %v", b.IsPercent(), tt.wantPercent)
			}
			if b.String() != tt.wantString {
				t.Errorf("String() = %q, want %q", b.String(), tt.wantString)
			}
		})
	}
}

func TestBatchSizeMarshal(t *testing.T) {
	cfg := StaggeredConfig{BatchSize: Percent(25)}
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded StaggeredConfig
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !decoded.BatchSize.IsPercent() || decoded.BatchSize.String() != "25%" {
		t.Errorf("decoded batch size = %v, want 25%%", decoded.BatchSize)
	}
}

func TestBatchSizeResolve(t *testing.T) {
	tests := []struct {
		name  string
		size  BatchSize
		total int
		want  int
	}{
		{"count", Count(3), 10, 3},
		{"count larger than total", Count(50), 10, 50},
		{"percent rounds up", Percent(10), 15, 2},
		{"percent exact", Percent(50), 10, 5},
		{"percent minimum one", Percent(1), 5, 1},
		{"percent of empty set", Percent(10), 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.size.Resolve(tt.total); got != tt.want {
				t.Errorf("Resolve(%d) = %d, want %d", tt.total, got, tt.want)
			}
		})
	}
}

func TestRolloutConfigDefaults(t *testing.T) {
	var cfg RolloutConfig
	if err := json.Unmarshal([]byte(`{"type":"immediate"}`), &cfg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if cfg.RetryConfig.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", cfg.RetryConfig.MaxRetries, DefaultMaxRetries)
	}
	if len(cfg.RetryConfig.BackoffMinutes) != 3 || cfg.RetryConfig.BackoffMinutes[2] != 60 {
		t.Errorf("BackoffMinutes = %v, want [5 15 60]", cfg.RetryConfig.BackoffMinutes)
	}

	if err := json.Unmarshal([]byte(`{"type":"immediate","retryConfig":{"maxRetries":0}}`), &cfg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if cfg.RetryConfig.MaxRetries != 0 {
		t.Errorf("explicit MaxRetries = %d, want 0", cfg.RetryConfig.MaxRetries)
	}
	if len(cfg.RetryConfig.BackoffMinutes) != 3 {
		t.Errorf("omitted backoff should keep defaults, got %v", cfg.RetryConfig.BackoffMinutes)
	}
}

func TestRolloutConfigValidate(t *testing.T) {
	two := 2
	zero := 0
	pct := 150.0

	tests := []struct {
		name    string
		cfg     RolloutConfig
		wantErr bool
	}{
		{"immediate", DefaultRolloutConfig(), false},
		{"staggered", RolloutConfig{
			Type:        RolloutStaggered,
			Staggered:   &StaggeredConfig{BatchSize: Count(3), PauseOnFailureCount: &two},
			RetryConfig: DefaultRetryConfig(),
		}, false},
		{"staggered without settings", RolloutConfig{Type: RolloutStaggered, RetryConfig: DefaultRetryConfig()}, true},
		{"immediate with settings", RolloutConfig{
			Type:      RolloutImmediate,
			Staggered: &StaggeredConfig{BatchSize: Count(1)},
		}, true},
		{"missing batch size", RolloutConfig{Type: RolloutStaggered, Staggered: &StaggeredConfig{}}, true},
		{"zero count", RolloutConfig{Type: RolloutStaggered, Staggered: &StaggeredConfig{BatchSize: Count(0)}}, true},
		{"negative delay", RolloutConfig{Type: RolloutStaggered, Staggered: &StaggeredConfig{BatchSize: Count(1), BatchDelayMinutes: -1}}, true},
		{"zero failure count", RolloutConfig{Type: RolloutStaggered, Staggered: &StaggeredConfig{BatchSize: Count(1), PauseOnFailureCount: &zero}}, true},
		{"percent out of range", RolloutConfig{Type: RolloutStaggered, Staggered: &StaggeredConfig{BatchSize: Count(1), PauseOnFailurePercent: &pct}}, true},
		{"too many retries", RolloutConfig{Type: RolloutImmediate, RetryConfig: RetryConfig{MaxRetries: 11}}, true},
		{"unknown type", RolloutConfig{Type: "canary"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrRolloutConfig) {
				t.Errorf("expected ErrRolloutConfig, got %v", err)
			}
		})
	}
}

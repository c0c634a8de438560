// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestGenerateIDs(t *testing.T) {
	t.Parallel()

	if id := GenerateCorrelationID(); len(id) != 8 {
		t.Errorf("correlation ID length = %d, want 8", len(id))
	}
	a, b := GenerateRequestID(), GenerateRequestID()
	if len(a) != 36 {
		t.Errorf("request ID length = %d, want 36", len(a))
	}
	if a == b {
		t.Error("expected unique request IDs")
	}
}

func TestContextValues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if CorrelationIDFromContext(ctx) != "" || RequestIDFromContext(ctx) != "" || DeploymentIDFromContext(ctx) != "" {
		t.Fatal("expected empty values on a bare context")
	}

	ctx = ContextWithCorrelationID(ctx, "corr1234")
	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithDeploymentID(ctx, "dep-1")

	if got := CorrelationIDFromContext(ctx); got != "corr1234" {
		t.Errorf("CorrelationIDFromContext = %q, want corr1234", got)
	}
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("RequestIDFromContext = %q, want req-1", got)
	}
	if got := DeploymentIDFromContext(ctx); got != "dep-1" {
		t.Errorf("DeploymentIDFromContext = %q, want dep-1", got)
	}
}

func TestCtx(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := ContextWithLogger(context.Background(), NewTestLogger(&buf))
	ctx = ContextWithRequestID(ctx, "req-42")
	ctx = ContextWithDeploymentID(ctx, "dep-42")

	Ctx(ctx).Info().Msg("batch started")

	out := buf.String()
	for _, want := range []string{`"request_id":"req-42"`, `"deployment_id":"dep-42"`, "batch started"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output: %s", want, out)
		}
	}
	if strings.Contains(out, "correlation_id") {
		t.Errorf("did not expect correlation_id in output: %s", out)
	}
}

func TestSlogHandler(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(NewSlogHandlerWithLogger(NewTestLogger(&buf)))

	logger.WithGroup("supervisor").Warn("service failed", "service", "deployment-driver", "restarts", 2)

	out := buf.String()
	for _, want := range []string{
		`"level":"warn"`,
		`"supervisor.service":"deployment-driver"`,
		`"supervisor.restarts":2`,
		"service failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output: %s", want, out)
		}
	}
}

func TestNewSlogLoggerUsesZerolog(t *testing.T) {
	t.Parallel()

	if _, ok := NewSlogLogger().Handler().(*SlogHandler); !ok {
		t.Errorf("NewSlogLogger().Handler() = %T, want *SlogHandler", NewSlogLogger().Handler())
	}
}

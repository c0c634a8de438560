// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

// Package dispatch delivers deployment commands to device agents.
//
// A Dispatcher sends one Command and waits for its outcome, bounded by the
// context deadline. Two implementations exist: HTTPDispatcher, which posts
// commands to an agent gateway behind a circuit breaker and rate limiter,
// and Simulator, an in-process stand-in for demos and load tests.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/fleetrollout/internal/models"
)

// Command is one delivery of a deployment payload to one device.
type Command struct {
	ID           string          `json:"id"`
	DeploymentID string          `json:"deploymentId"`
	DeviceID     string          `json:"deviceId"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Attempt      int             `json:"attempt"`
	TimeoutMs    int64           `json:"timeoutMs,omitempty"`
}

// Dispatcher delivers a command and returns the agent's result. A non-nil
// error means no result was obtained; callers turn it into a failed or
// timed-out result with ResultFromError.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd Command) (*models.CommandResult, error)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, cmd Command) (*models.CommandResult, error)

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, cmd Command) (*models.CommandResult, error) {
	return f(ctx, cmd)
}

// ResultFromError converts a dispatch error into a result. Deadline errors
// become timeout results, everything else a failed result.
func ResultFromError(err error, attempt int, elapsed time.Duration) *models.CommandResult {
	status := models.CommandFailed
	if errors.Is(err, context.DeadlineExceeded) {
		status = models.CommandTimeout
	}
	return &models.CommandResult{
		Status:     status,
		ExitCode:   -1,
		Error:      err.Error(),
		DurationMs: elapsed.Milliseconds(),
		Attempt:    attempt,
	}
}

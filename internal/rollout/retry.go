// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package rollout

import (
	"time"

	"github.com/tomtom215/fleetrollout/internal/models"
)

// RetryDecision is the Retry Scheduler's answer for one work item.
type RetryDecision struct {
	Retry            bool `json:"retry"`
	NotBeforeMinutes int  `json:"notBeforeMinutes"`
}

// ShouldRetry reports whether item may be attempted again and after how many
// minutes. Only failed items with remaining budget are eligible.
func ShouldRetry(item *models.DeviceWorkItem, cfg models.RetryConfig) RetryDecision {
	if !item.CanRetry() {
		return RetryDecision{}
	}
	return RetryDecision{
		Retry:            true,
		NotBeforeMinutes: BackoffMinutes(cfg.BackoffMinutes, item.RetryCount),
	}
}

// BackoffMinutes returns backoff[retryCount], clamped to the last entry.
// An empty schedule means no delay.
func BackoffMinutes(backoff []int, retryCount int) int {
	if len(backoff) == 0 {
		return 0
	}
	return backoff[min(max(retryCount, 0), len(backoff)-1)]
}

// BackoffDelay returns a function suitable for store.IncrementRetry that
// converts the backoff schedule to durations of unit per minute.
func BackoffDelay(backoff []int, unit time.Duration) func(retryCount int) time.Duration {
	return func(retryCount int) time.Duration {
		return time.Duration(BackoffMinutes(backoff, retryCount)) * unit
	}
}

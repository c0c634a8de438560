// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package models

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Retry defaults applied when a rollout config omits them.
const (
	DefaultMaxRetries = 3
	MaxAllowedRetries = 10
)

// DefaultBackoffMinutes is the retry backoff used when none is configured.
var DefaultBackoffMinutes = []int{5, 15, 60}

// ErrRolloutConfig is returned for an inconsistent rollout configuration.
var ErrRolloutConfig = errors.New("invalid rolloutConfig")

// RolloutType selects single-batch or incremental delivery.
type RolloutType string

const (
	RolloutImmediate RolloutType = "immediate"
	RolloutStaggered RolloutType = "staggered"
)

// RolloutConfig is the rollout policy. Staggered is set iff Type is staggered.
type RolloutConfig struct {
	Type                      RolloutType      `json:"type"`
	Staggered                 *StaggeredConfig `json:"staggered,omitempty"`
	RespectMaintenanceWindows bool             `json:"respectMaintenanceWindows"`
	RetryConfig               RetryConfig      `json:"retryConfig"`
}

// StaggeredConfig holds the batch policy of a staggered rollout.
type StaggeredConfig struct {
	BatchSize             BatchSize `json:"batchSize"`
	BatchDelayMinutes     int       `json:"batchDelayMinutes"`
	PauseOnFailureCount   *int      `json:"pauseOnFailureCount,omitempty"`
	PauseOnFailurePercent *float64  `json:"pauseOnFailurePercent,omitempty"`
}

// DefaultRolloutConfig returns an immediate rollout with default retries.
func DefaultRolloutConfig() RolloutConfig {
	return RolloutConfig{Type: RolloutImmediate, RetryConfig: DefaultRetryConfig()}
}

// UnmarshalJSON applies retry defaults before decoding so that an omitted
// retryConfig keeps maxRetries=3 while an explicit 0 is honored.
func (c *RolloutConfig) UnmarshalJSON(data []byte) error {
	type plain RolloutConfig
	v := plain{RetryConfig: DefaultRetryConfig()}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*c = RolloutConfig(v)
	return nil
}

// Validate checks the union shape and value ranges.
func (c *RolloutConfig) Validate() error {
	switch c.Type {
	case RolloutImmediate:
		if c.Staggered != nil {
			return fmt.Errorf("%w: staggered settings given for an immediate rollout", ErrRolloutConfig)
		}
	case RolloutStaggered:
		if c.Staggered == nil {
			return fmt.Errorf("%w: staggered rollout requires staggered settings", ErrRolloutConfig)
		}
		if err := c.Staggered.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrRolloutConfig, c.Type)
	}
	return c.RetryConfig.Validate()
}

// Validate checks batch policy ranges.
func (s *StaggeredConfig) Validate() error {
	if err := s.BatchSize.Validate(); err != nil {
		return err
	}
	if s.BatchDelayMinutes < 0 {
		return fmt.Errorf("%w: batchDelayMinutes must be >= 0", ErrRolloutConfig)
	}
	if s.PauseOnFailureCount != nil && *s.PauseOnFailureCount < 1 {
		return fmt.Errorf("%w: pauseOnFailureCount must be >= 1", ErrRolloutConfig)
	}
	if s.PauseOnFailurePercent != nil && (*s.PauseOnFailurePercent <= 0 || *s.PauseOnFailurePercent > 100) {
		return fmt.Errorf("%w: pauseOnFailurePercent must be in (0, 100]", ErrRolloutConfig)
	}
	return nil
}

// RetryConfig bounds automatic and manual retries of a failed device.
type RetryConfig struct {
	MaxRetries     int   `json:"maxRetries"`
	BackoffMinutes []int `json:"backoffMinutes"`
}

// DefaultRetryConfig returns maxRetries=3 with backoff [5,15,60].
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     DefaultMaxRetries,
		BackoffMinutes: append([]int(nil), DefaultBackoffMinutes...),
	}
}

// UnmarshalJSON keeps defaults for omitted fields.
func (r *RetryConfig) UnmarshalJSON(data []byte) error {
	type plain RetryConfig
	v := plain(DefaultRetryConfig())
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = RetryConfig(v)
	return nil
}

// Validate checks maxRetries is within 0..10 and backoff entries are non-negative.
func (r *RetryConfig) Validate() error {
	if r.MaxRetries < 0 || r.MaxRetries > MaxAllowedRetries {
		return fmt.Errorf("%w: maxRetries must be between 0 and %d", ErrRolloutConfig, MaxAllowedRetries)
	}
	for i, m := range r.BackoffMinutes {
		if m < 0 {
			return fmt.Errorf("%w: backoffMinutes[%d] must be >= 0", ErrRolloutConfig, i)
		}
	}
	return nil
}

type batchSizeKind uint8

const (
	batchSizeUnset batchSizeKind = iota
	batchSizeCount
	batchSizePercent
)

// BatchSize is either an absolute count or a percentage of the target set.
// On the wire it is a JSON number (count) or a string such as "10%".
type BatchSize struct {
	kind    batchSizeKind
	count   int
	percent float64
}

// Count returns an absolute batch size.
func Count(n int) BatchSize {
	return BatchSize{kind: batchSizeCount, count: n}
}

// Percent returns a batch size relative to the number of resolved devices.
func Percent(p float64) BatchSize {
	return BatchSize{kind: batchSizePercent, percent: p}
}

// IsPercent reports whether b is a percentage.
func (b BatchSize) IsPercent() bool { return b.kind == batchSizePercent }

// IsZero reports whether b was never set.
func (b BatchSize) IsZero() bool { return b.kind == batchSizeUnset }

// Validate checks the count is positive or the percentage is in (0, 100].
func (b BatchSize) Validate() error {
	switch b.kind {
	case batchSizeCount:
		if b.count < 1 {
			return fmt.Errorf("%w: batchSize must be a positive integer", ErrRolloutConfig)
		}
	case batchSizePercent:
		if b.percent <= 0 || b.percent > 100 {
			return fmt.Errorf("%w: batchSize percentage must be in (0%%, 100%%]", ErrRolloutConfig)
		}
	default:
		return fmt.Errorf("%w: batchSize is required", ErrRolloutConfig)
	}
	return nil
}

// Resolve returns the absolute batch size for total devices, never below 1.
func (b BatchSize) Resolve(total int) int {
	n := b.count
	if b.kind == batchSizePercent {
		n = int(math.Ceil(b.percent * float64(total) / 100))
	}
	if n < 1 {
		return 1
	}
	return n
}

// String renders b in its wire form.
func (b BatchSize) String() string {
	switch b.kind {
	case batchSizeCount:
		return strconv.Itoa(b.count)
	case batchSizePercent:
		return strconv.FormatFloat(b.percent, 'f', -1, 64) + "%"
	default:
		return ""
	}
}

// MarshalJSON encodes a count as a number and a percentage as a string.
func (b BatchSize) MarshalJSON() ([]byte, error) {
	switch b.kind {
	case batchSizeCount:
		return []byte(strconv.Itoa(b.count)), nil
	case batchSizePercent:
		return json.Marshal(b.String())
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts 25, "25" or "25%".
func (b *BatchSize) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*b = BatchSize{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		return b.parse(strings.TrimSpace(str))
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("%w: batchSize must be an integer or a percentage string", ErrRolloutConfig)
	}
	*b = Count(n)
	return nil
}

func (b *BatchSize) parse(s string) error {
	if pct, ok := strings.CutSuffix(s, "%"); ok {
		p, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil {
			return fmt.Errorf("%w: bad batchSize percentage %q", ErrRolloutConfig, s)
		}
		*b = Percent(p)
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("%w: bad batchSize %q", ErrRolloutConfig, s)
	}
	*b = Count(n)
	return nil
}

// ScheduleType selects when dispatch may begin after start.
type ScheduleType string

const (
	ScheduleImmediate         ScheduleType = "immediate"
	ScheduleAt                ScheduleType = "scheduled"
	ScheduleMaintenanceWindow ScheduleType = "maintenance_window"
)

// Schedule controls the earliest dispatch time of a deployment.
type Schedule struct {
	Type ScheduleType `json:"type"`
	At   *time.Time   `json:"at,omitempty"`
}

// Validate checks At is present iff the schedule is time based.
func (s *Schedule) Validate() error {
	switch s.Type {
	case "", ScheduleImmediate, ScheduleMaintenanceWindow:
		if s.At != nil {
			return fmt.Errorf("%w: schedule.at is only valid for scheduled", ErrRolloutConfig)
		}
	case ScheduleAt:
		if s.At == nil {
			return fmt.Errorf("%w: scheduled requires schedule.at", ErrRolloutConfig)
		}
	default:
		return fmt.Errorf("%w: unknown schedule type %q", ErrRolloutConfig, s.Type)
	}
	return nil
}

// StartAt returns the earliest dispatch time, or the zero time.
func (s *Schedule) StartAt() time.Time {
	if s.Type == ScheduleAt && s.At != nil {
		return *s.At
	}
	return time.Time{}
}

// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/fleetrollout/internal/logging"
	"github.com/tomtom215/fleetrollout/internal/metrics"
	"github.com/tomtom215/fleetrollout/internal/models"
)

// maxResponseBytes caps how much of a gateway response is read.
const maxResponseBytes = 1 << 20

// ErrRejected wraps 4xx gateway responses. Rejections do not count against
// the circuit breaker since the gateway itself is healthy.
var ErrRejected = errors.New("command rejected by gateway")

// HTTPConfig configures an HTTPDispatcher.
type HTTPConfig struct {
	BaseURL           string
	Token             string
	RequestsPerSecond float64
	Burst             int

	BreakerName             string
	BreakerMaxRequests      uint32
	BreakerInterval         time.Duration
	BreakerTimeout          time.Duration
	BreakerFailureThreshold uint32

	// Client overrides the HTTP client. Defaults to one without a timeout;
	// the per-command context deadline bounds each request.
	Client *http.Client
}

// HTTPDispatcher posts commands to an agent gateway:
//
//	POST {BaseURL}/v1/devices/{deviceId}/commands
//
// The gateway relays the command to the device's agent and replies with a
// models.CommandResult once the agent reports back.
type HTTPDispatcher struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[*models.CommandResult]
	name    string
}

// NewHTTPDispatcher creates a dispatcher for the gateway at cfg.BaseURL.
func NewHTTPDispatcher(cfg HTTPConfig) (*HTTPDispatcher, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid gateway URL %q", cfg.BaseURL)
	}
	name := cfg.BreakerName
	if name == "" {
		name = "agent-gateway"
	}
	threshold := cfg.BreakerFailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[*models.CommandResult](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			trip := counts.ConsecutiveFailures >= threshold
			if trip {
				logging.Warn().
					Str("breaker", name).
					Uint32("consecutive_failures", counts.ConsecutiveFailures).
					Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			logging.Info().Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
		IsSuccessful: countsAsHealthy,
	})

	return &HTTPDispatcher{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		cb:      cb,
		name:    name,
	}, nil
}

// Dispatch sends cmd through the rate limiter and circuit breaker.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, cmd Command) (*models.CommandResult, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok && cmd.TimeoutMs == 0 {
		cmd.TimeoutMs = time.Until(deadline).Milliseconds()
	}

	res, err := d.cb.Execute(func() (*models.CommandResult, error) {
		return d.post(ctx, cmd)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		logging.Debug().Str("device_id", cmd.DeviceID).Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
	}
	return res, err
}

// countsAsHealthy reports whether err leaves the breaker's failure count
// alone. Rejections and per-command deadline expiry (a slow device, not a
// down gateway) are not gateway failures.
func countsAsHealthy(err error) bool {
	return err == nil ||
		errors.Is(err, ErrRejected) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// State returns the breaker state as a string.
func (d *HTTPDispatcher) State() string {
	return stateToString(d.cb.State())
}

func (d *HTTPDispatcher) post(ctx context.Context, cmd Command) (*models.CommandResult, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/devices/%s/commands", d.baseURL, url.PathEscape(cmd.DeviceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", cmd.ID)
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, truncate(data))
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: %d: %s", ErrRejected, resp.StatusCode, truncate(data))
	}

	var res models.CommandResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	switch res.Status {
	case models.CommandCompleted, models.CommandFailed, models.CommandTimeout:
	default:
		return nil, fmt.Errorf("gateway returned unknown status %q", res.Status)
	}
	if res.Attempt == 0 {
		res.Attempt = cmd.Attempt
	}
	return &res, nil
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to string for logging
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

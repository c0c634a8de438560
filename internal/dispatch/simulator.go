// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package dispatch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/tomtom215/fleetrollout/internal/models"
)

// SimulatorConfig configures a Simulator.
type SimulatorConfig struct {
	// FailureRate is the probability in [0,1] that a command fails.
	FailureRate float64
	// Latency is the mean simulated command duration; actual latency is
	// uniform in [Latency/2, 3*Latency/2).
	Latency time.Duration
	// Seed makes outcomes reproducible. Zero picks a random seed.
	Seed uint64
}

// Simulator is an in-process Dispatcher that succeeds or fails at random.
type Simulator struct {
	failureRate float64
	latency     time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator creates a Simulator.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Simulator{
		failureRate: cfg.FailureRate,
		latency:     cfg.Latency,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Dispatch waits the simulated latency and returns a completed or failed result.
func (s *Simulator) Dispatch(ctx context.Context, cmd Command) (*models.CommandResult, error) {
	s.mu.Lock()
	fail := s.rng.Float64() < s.failureRate
	var delay time.Duration
	if s.latency > 0 {
		delay = s.latency/2 + time.Duration(s.rng.Int64N(int64(s.latency)))
	}
	s.mu.Unlock()

	start := time.Now()
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	res := &models.CommandResult{
		Status:     models.CommandCompleted,
		Stdout:     fmt.Sprintf("applied %s to %s", cmd.Type, cmd.DeviceID),
		DurationMs: time.Since(start).Milliseconds(),
		Attempt:    cmd.Attempt,
	}
	if fail {
		res.Status = models.CommandFailed
		res.ExitCode = 1
		res.Stdout = ""
		res.Stderr = "simulated agent failure"
	}
	return res, nil
}

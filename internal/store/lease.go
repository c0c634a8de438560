// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package store

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/fleetrollout/internal/logging"
)

// Lease records which process is driving a deployment. A lease that is
// past its expiry may be taken over, which is how a crashed driver's
// deployment is recovered by another process.
type Lease struct {
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AcquireLease claims the driver lease of a deployment for holder.
//
// Returns:
//   - (true, nil): the lease is now held by holder (new, taken over or extended)
//   - (false, nil): another holder has an unexpired lease
//   - (false, err): database error
func (s *Store) AcquireLease(ctx context.Context, deploymentID, holder string, ttl time.Duration) (bool, error) {
	var acquired bool
	err := s.update(ctx, "acquire_lease", func(txn *badger.Txn) error {
		acquired = false
		now := time.Now()

		var current Lease
		err := getJSON(txn, leaseKey(deploymentID), &current)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err == nil && current.Holder != holder && now.Before(current.ExpiresAt) {
			logging.Trace().
				Str("deployment_id", deploymentID).
				Str("lease_holder", current.Holder).
				Time("lease_expiry", current.ExpiresAt).
				Msg("Deployment lease held elsewhere")
			return nil
		}

		lease := Lease{Holder: holder, ExpiresAt: now.Add(ttl)}
		if err := setJSON(txn, leaseKey(deploymentID), &lease); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if acquired {
		logging.Debug().
			Str("deployment_id", deploymentID).
			Str("lease_holder", holder).
			Msg("Deployment lease acquired")
	}
	return acquired, nil
}

// RenewLease extends a lease that holder still owns. It returns false if the
// lease was lost to another holder.
func (s *Store) RenewLease(ctx context.Context, deploymentID, holder string, ttl time.Duration) (bool, error) {
	var renewed bool
	err := s.update(ctx, "renew_lease", func(txn *badger.Txn) error {
		renewed = false
		var current Lease
		if err := getJSON(txn, leaseKey(deploymentID), &current); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if current.Holder != holder {
			return nil
		}
		current.ExpiresAt = time.Now().Add(ttl)
		if err := setJSON(txn, leaseKey(deploymentID), &current); err != nil {
			return err
		}
		renewed = true
		return nil
	})
	return renewed, err
}

// ReleaseLease deletes the lease if holder owns it.
func (s *Store) ReleaseLease(ctx context.Context, deploymentID, holder string) error {
	return s.update(ctx, "release_lease", func(txn *badger.Txn) error {
		var current Lease
		if err := getJSON(txn, leaseKey(deploymentID), &current); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if current.Holder != holder {
			return nil
		}
		return txn.Delete(leaseKey(deploymentID))
	})
}

// GetLease returns the current lease of a deployment.
func (s *Store) GetLease(_ context.Context, deploymentID string) (*Lease, error) {
	var l Lease
	err := s.view("get_lease", func(txn *badger.Txn) error {
		return getJSON(txn, leaseKey(deploymentID), &l)
	})
	if err != nil {
		return nil, wrapNotFound("lease", deploymentID, err)
	}
	return &l, nil
}

// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/fleetrollout/internal/models"
)

// retryableDeploymentStatuses are the deployment statuses in which a failed
// item may be re-queued.
var retryableDeploymentStatuses = []models.DeploymentStatus{
	models.DeploymentPending,
	models.DeploymentDownloading,
	models.DeploymentInstalling,
	models.DeploymentPaused,
}

// InitializeItems writes the planned work items and moves the deployment
// from draft to pending in one transaction. Items must carry DeviceID, Seq,
// BatchNumber and MaxRetries. mutate may set further deployment fields.
func (s *Store) InitializeItems(
	ctx context.Context,
	id string,
	items []*models.DeviceWorkItem,
	mutate func(d *models.Deployment),
) (*models.Deployment, error) {
	var out *models.Deployment
	err := s.update(ctx, "initialize_items", func(txn *badger.Txn) error {
		d, err := loadDeployment(txn, id)
		if err != nil {
			return err
		}
		if d.Status != models.DeploymentDraft {
			return &StatusMismatchError{Current: string(d.Status)}
		}

		now := time.Now().UTC()
		for _, it := range items {
			idx := itemIndexKey(id, it.DeviceID)
			found, err := exists(txn, idx)
			if err != nil {
				return err
			}
			if found {
				return fmt.Errorf("work item %s/%s: %w", id, it.DeviceID, ErrAlreadyExists)
			}
			it.DeploymentID = id
			it.Status = models.ItemPending
			it.UpdatedAt = now
			if err := setJSON(txn, itemKey(id, it.Seq), it); err != nil {
				return err
			}
			if err := txn.Set(idx, []byte(strconv.Itoa(it.Seq))); err != nil {
				return fmt.Errorf("set item index: %w", err)
			}
		}

		d.Status = models.DeploymentPending
		if mutate != nil {
			mutate(d)
		}
		if err := saveDeployment(txn, d); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		if errors.Is(err, badger.ErrTxnTooBig) {
			return nil, fmt.Errorf("deployment %s: target set too large for one transaction: %w", id, err)
		}
		return nil, wrapNotFound("deployment", id, err)
	}
	return out, nil
}

// GetItem returns the work item of one device.
func (s *Store) GetItem(_ context.Context, deploymentID, deviceID string) (*models.DeviceWorkItem, error) {
	var out *models.DeviceWorkItem
	err := s.view("get_item", func(txn *badger.Txn) error {
		it, err := loadItem(txn, deploymentID, deviceID)
		out = it
		return err
	})
	if err != nil {
		return nil, wrapNotFound("work item", deploymentID+"/"+deviceID, err)
	}
	return out, nil
}

// ListItems returns all work items of a deployment in resolution order.
func (s *Store) ListItems(_ context.Context, deploymentID string) ([]*models.DeviceWorkItem, error) {
	var out []*models.DeviceWorkItem
	err := s.view("list_items", func(txn *badger.Txn) error {
		items, err := loadItems(txn, deploymentID)
		out = items
		return err
	})
	return out, err
}

// Snapshot reads a deployment and all its items from one consistent view.
func (s *Store) Snapshot(_ context.Context, deploymentID string) (*models.Deployment, []*models.DeviceWorkItem, error) {
	var (
		d     *models.Deployment
		items []*models.DeviceWorkItem
	)
	err := s.view("snapshot", func(txn *badger.Txn) error {
		var err error
		if d, err = loadDeployment(txn, deploymentID); err != nil {
			return err
		}
		items, err = loadItems(txn, deploymentID)
		return err
	})
	if err != nil {
		return nil, nil, wrapNotFound("deployment", deploymentID, err)
	}
	return d, items, nil
}

// ClaimItem moves a pending item to running before dispatch. It fails with a
// *StatusMismatchError when the item is no longer pending or when the
// deployment has left the running phase, so no new dispatch starts after a
// pause or cancel has committed.
func (s *Store) ClaimItem(ctx context.Context, deploymentID, deviceID string, now time.Time) (*models.DeviceWorkItem, error) {
	var out *models.DeviceWorkItem
	err := s.update(ctx, "claim_item", func(txn *badger.Txn) error {
		d, err := loadDeployment(txn, deploymentID)
		if err != nil {
			return err
		}
		if !d.Status.IsRunning() {
			return &StatusMismatchError{Current: string(d.Status)}
		}
		it, err := loadItem(txn, deploymentID, deviceID)
		if err != nil {
			return err
		}
		if it.Status != models.ItemPending {
			return &StatusMismatchError{Current: string(it.Status)}
		}
		it.Status = models.ItemRunning
		it.NotBefore = nil
		it.StartedAt = &now
		it.CompletedAt = nil
		it.UpdatedAt = now
		if err := setJSON(txn, itemKey(deploymentID, it.Seq), it); err != nil {
			return err
		}
		out = it
		return nil
	})
	if err != nil {
		return nil, wrapNotFound("work item", deploymentID+"/"+deviceID, err)
	}
	return out, nil
}

// RecordResult stores the outcome of a running item's dispatch attempt,
// moving it to completed or failed. Results are recorded whatever the
// deployment status, so in-flight attempts finish after a cancel.
func (s *Store) RecordResult(
	ctx context.Context,
	deploymentID, deviceID string,
	result *models.CommandResult,
	now time.Time,
) (*models.DeviceWorkItem, error) {
	var out *models.DeviceWorkItem
	err := s.update(ctx, "record_result", func(txn *badger.Txn) error {
		it, err := loadItem(txn, deploymentID, deviceID)
		if err != nil {
			return err
		}
		if it.Status != models.ItemRunning {
			return &StatusMismatchError{Current: string(it.Status)}
		}
		it.Status = models.ItemFailed
		if result.Succeeded() {
			it.Status = models.ItemCompleted
		}
		it.Result = result
		it.CompletedAt = &now
		it.UpdatedAt = now
		if err := setJSON(txn, itemKey(deploymentID, it.Seq), it); err != nil {
			return err
		}
		out = it
		return nil
	})
	if err != nil {
		return nil, wrapNotFound("work item", deploymentID+"/"+deviceID, err)
	}
	return out, nil
}

// IncrementRetry atomically re-queues a failed item. Within one transaction
// it checks that the deployment still accepts retries, that the item is
// failed and that retryCount < maxRetries; if so retryCount is incremented,
// the item returns to pending and NotBefore is set to now plus
// delay(previousRetryCount). Otherwise the item is left untouched and
// CanRetry is false.
func (s *Store) IncrementRetry(
	ctx context.Context,
	deploymentID, deviceID string,
	delay func(retryCount int) time.Duration,
	now time.Time,
) (models.RetryOutcome, error) {
	var out models.RetryOutcome
	err := s.update(ctx, "increment_retry", func(txn *badger.Txn) error {
		out = models.RetryOutcome{}
		d, err := loadDeployment(txn, deploymentID)
		if err != nil {
			return err
		}
		if !slices.Contains(retryableDeploymentStatuses, d.Status) {
			return &StatusMismatchError{Current: string(d.Status)}
		}
		it, err := loadItem(txn, deploymentID, deviceID)
		if err != nil {
			return err
		}
		out.RetryCount = it.RetryCount
		if !it.CanRetry() {
			return nil
		}

		notBefore := now.Add(delay(it.RetryCount))
		it.RetryCount++
		it.Status = models.ItemPending
		it.NotBefore = &notBefore
		it.CompletedAt = nil
		it.UpdatedAt = now
		if err := setJSON(txn, itemKey(deploymentID, it.Seq), it); err != nil {
			return err
		}
		out = models.RetryOutcome{RetryCount: it.RetryCount, CanRetry: true, NotBefore: &notBefore}
		return nil
	})
	if err != nil {
		return models.RetryOutcome{}, wrapNotFound("work item", deploymentID+"/"+deviceID, err)
	}
	return out, nil
}

// FailInterrupted marks every running item of a deployment failed with an
// "interrupted" result. Used when a driver restarts after a crash.
func (s *Store) FailInterrupted(ctx context.Context, deploymentID string, now time.Time) ([]*models.DeviceWorkItem, error) {
	var failed []*models.DeviceWorkItem
	err := s.update(ctx, "fail_interrupted", func(txn *badger.Txn) error {
		failed = failed[:0]
		items, err := loadItems(txn, deploymentID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if it.Status != models.ItemRunning {
				continue
			}
			var durationMs int64
			if it.StartedAt != nil {
				durationMs = now.Sub(*it.StartedAt).Milliseconds()
			}
			it.Status = models.ItemFailed
			it.Result = &models.CommandResult{
				Status:     models.CommandFailed,
				ExitCode:   -1,
				Error:      "interrupted",
				DurationMs: durationMs,
				Attempt:    it.RetryCount + 1,
			}
			it.CompletedAt = &now
			it.UpdatedAt = now
			if err := setJSON(txn, itemKey(deploymentID, it.Seq), it); err != nil {
				return err
			}
			failed = append(failed, it)
		}
		return nil
	})
	return failed, err
}

func loadItem(txn *badger.Txn, deploymentID, deviceID string) (*models.DeviceWorkItem, error) {
	idx, err := txn.Get(itemIndexKey(deploymentID, deviceID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get item index: %w", err)
	}
	var seq int
	if err := idx.Value(func(val []byte) error {
		var convErr error
		seq, convErr = strconv.Atoi(string(val))
		return convErr
	}); err != nil {
		return nil, fmt.Errorf("decode item index: %w", err)
	}

	var it models.DeviceWorkItem
	if err := getJSON(txn, itemKey(deploymentID, seq), &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func loadItems(txn *badger.Txn, deploymentID string) ([]*models.DeviceWorkItem, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var out []*models.DeviceWorkItem
	prefix := itemPrefix(deploymentID)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var w models.DeviceWorkItem
		if err := it.Item().Value(func(val []byte) error {
			return unmarshal(val, &w)
		}); err != nil {
			return nil, fmt.Errorf("decode %s: %w", it.Item().Key(), err)
		}
		out = append(out, &w)
	}
	return out, nil
}

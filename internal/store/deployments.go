// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/fleetrollout/internal/models"
)

// CreateDeployment stores a new deployment. The ID must be unused.
func (s *Store) CreateDeployment(ctx context.Context, d *models.Deployment) error {
	if d.ID == "" {
		return errors.New("deployment ID cannot be empty")
	}
	if strings.Contains(d.ID, keySep) || strings.Contains(d.OrgID, keySep) {
		return errors.New("deployment ID and org ID must not contain NUL")
	}
	return s.update(ctx, "create_deployment", func(txn *badger.Txn) error {
		found, err := exists(txn, deploymentKey(d.ID))
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("deployment %s: %w", d.ID, ErrAlreadyExists)
		}
		d.Version = 1
		if err := setJSON(txn, deploymentKey(d.ID), d); err != nil {
			return err
		}
		return txn.Set(orgIndexKey(d.OrgID, d.ID), nil)
	})
}

// GetDeployment returns the deployment with the given ID.
func (s *Store) GetDeployment(_ context.Context, id string) (*models.Deployment, error) {
	var d models.Deployment
	err := s.view("get_deployment", func(txn *badger.Txn) error {
		return getJSON(txn, deploymentKey(id), &d)
	})
	if err != nil {
		return nil, wrapNotFound("deployment", id, err)
	}
	return &d, nil
}

// ListDeployments returns the deployments of an organization, or every
// deployment when orgID is empty, ordered by creation time.
func (s *Store) ListDeployments(_ context.Context, orgID string) ([]*models.Deployment, error) {
	var out []*models.Deployment
	err := s.view("list_deployments", func(txn *badger.Txn) error {
		if orgID == "" {
			return scanDeployments(txn, func(d *models.Deployment) { out = append(out, d) })
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := orgIndexPrefix(orgID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := string(bytes.TrimPrefix(it.Item().Key(), prefix))
			var d models.Deployment
			if err := getJSON(txn, deploymentKey(id), &d); err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			if d.OrgID != orgID {
				continue
			}
			out = append(out, &d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b *models.Deployment) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// ListDeploymentsByStatus returns every deployment whose status is in statuses.
func (s *Store) ListDeploymentsByStatus(_ context.Context, statuses ...models.DeploymentStatus) ([]*models.Deployment, error) {
	var out []*models.Deployment
	err := s.view("list_deployments_by_status", func(txn *badger.Txn) error {
		return scanDeployments(txn, func(d *models.Deployment) {
			if slices.Contains(statuses, d.Status) {
				out = append(out, d)
			}
		})
	})
	return out, err
}

func scanDeployments(txn *badger.Txn, fn func(*models.Deployment)) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	prefix := []byte(prefixDeployment)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var d models.Deployment
		if err := it.Item().Value(func(val []byte) error {
			return unmarshal(val, &d)
		}); err != nil {
			return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
		}
		fn(&d)
	}
	return nil
}

// UpdateDeployment applies mutate to the stored deployment in one
// transaction. An error from mutate aborts without writing.
func (s *Store) UpdateDeployment(ctx context.Context, id string, mutate func(d *models.Deployment) error) (*models.Deployment, error) {
	var out *models.Deployment
	err := s.update(ctx, "update_deployment", func(txn *badger.Txn) error {
		d, err := loadDeployment(txn, id)
		if err != nil {
			return err
		}
		if err := mutate(d); err != nil {
			return err
		}
		if err := saveDeployment(txn, d); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, wrapNotFound("deployment", id, err)
	}
	return out, nil
}

// CompareAndSetStatus moves a deployment to `to` if its current status is one
// of from. mutate, when non-nil, may change other fields in the same write.
// A mismatch returns a *StatusMismatchError.
func (s *Store) CompareAndSetStatus(
	ctx context.Context,
	id string,
	from []models.DeploymentStatus,
	to models.DeploymentStatus,
	mutate func(d *models.Deployment),
) (*models.Deployment, error) {
	return s.UpdateDeployment(ctx, id, func(d *models.Deployment) error {
		if !slices.Contains(from, d.Status) {
			return &StatusMismatchError{Current: string(d.Status)}
		}
		d.Status = to
		if mutate != nil {
			mutate(d)
		}
		return nil
	})
}

// CancelDeployment moves a deployment from one of `from` to cancelled and
// marks every pending item skipped, atomically. Running items are left to
// finish. It returns the deployment and the number of skipped items.
func (s *Store) CancelDeployment(ctx context.Context, id string, from []models.DeploymentStatus, now time.Time) (*models.Deployment, int, error) {
	var (
		out     *models.Deployment
		skipped int
	)
	err := s.update(ctx, "cancel_deployment", func(txn *badger.Txn) error {
		skipped = 0
		d, err := loadDeployment(txn, id)
		if err != nil {
			return err
		}
		if !slices.Contains(from, d.Status) {
			return &StatusMismatchError{Current: string(d.Status)}
		}

		items, err := loadItems(txn, id)
		if err != nil {
			return err
		}
		for _, it := range items {
			if it.Status != models.ItemPending {
				continue
			}
			it.Status = models.ItemSkipped
			it.NotBefore = nil
			it.CompletedAt = &now
			it.UpdatedAt = now
			if err := setJSON(txn, itemKey(id, it.Seq), it); err != nil {
				return err
			}
			skipped++
		}

		d.Status = models.DeploymentCancelled
		d.PausedFrom = ""
		d.PauseReason = models.PauseReasonNone
		d.NextBatchAt = nil
		d.CompletedAt = &now
		if err := saveDeployment(txn, d); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, 0, wrapNotFound("deployment", id, err)
	}
	return out, skipped, nil
}

// FinishDeployment moves a running deployment to the terminal status chosen
// by decide from the final item counts. It fails with ErrItemsOutstanding if
// any item is still pending or running, so a concurrent manual retry cannot
// be lost.
func (s *Store) FinishDeployment(
	ctx context.Context,
	id string,
	decide func(counts models.StatusCounts) models.DeploymentStatus,
	now time.Time,
) (*models.Deployment, error) {
	var out *models.Deployment
	err := s.update(ctx, "finish_deployment", func(txn *badger.Txn) error {
		d, err := loadDeployment(txn, id)
		if err != nil {
			return err
		}
		if !d.Status.IsRunning() {
			return &StatusMismatchError{Current: string(d.Status)}
		}
		items, err := loadItems(txn, id)
		if err != nil {
			return err
		}
		var counts models.StatusCounts
		for _, it := range items {
			counts.Add(it.Status)
		}
		if counts.Open() > 0 {
			return ErrItemsOutstanding
		}
		d.Status = decide(counts)
		d.NextBatchAt = nil
		d.CompletedAt = &now
		if err := saveDeployment(txn, d); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, wrapNotFound("deployment", id, err)
	}
	return out, nil
}

func loadDeployment(txn *badger.Txn, id string) (*models.Deployment, error) {
	var d models.Deployment
	if err := getJSON(txn, deploymentKey(id), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func saveDeployment(txn *badger.Txn, d *models.Deployment) error {
	d.Version++
	d.UpdatedAt = time.Now().UTC()
	return setJSON(txn, deploymentKey(d.ID), d)
}

func wrapNotFound(kind, id string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return err
}

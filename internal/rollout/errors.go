// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package rollout

import (
	"errors"
	"fmt"

	"github.com/tomtom215/fleetrollout/internal/models"
	"github.com/tomtom215/fleetrollout/internal/store"
)

var (
	// ErrInvalidTransition is returned when an operation is not legal in the
	// deployment's current status. No state is changed.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrDeploymentNotFound is returned for an unknown deployment ID.
	ErrDeploymentNotFound = errors.New("deployment not found")

	// ErrItemNotFound is returned for a device that is not part of the deployment.
	ErrItemNotFound = errors.New("device not part of deployment")

	// ErrInvalidDeployment is returned for a structurally invalid definition.
	ErrInvalidDeployment = errors.New("invalid deployment")
)

// TransitionError reports an illegal operation together with the status the
// deployment was in.
type TransitionError struct {
	Op   Op
	From models.DeploymentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s a deployment in status %q", ErrInvalidTransition, e.Op, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// translateStoreError maps store sentinels onto the engine's error taxonomy.
func translateStoreError(op Op, err error, notFound error) error {
	if err == nil {
		return nil
	}
	var mismatch *store.StatusMismatchError
	switch {
	case errors.As(err, &mismatch):
		return &TransitionError{Op: op, From: models.DeploymentStatus(mismatch.Current)}
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", notFound, err)
	default:
		return err
	}
}

// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package rollout

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/fleetrollout/internal/models"
)

// DeviceDirectory answers inventory questions scoped to an organization.
// Every method returns device IDs in a stable order.
type DeviceDirectory interface {
	// DevicesInOrg returns the given IDs that belong to orgID, in input
	// order, dropping foreign and unknown IDs.
	DevicesInOrg(ctx context.Context, orgID string, ids []string) ([]string, error)
	// GroupMembers returns the members of the given groups of orgID.
	GroupMembers(ctx context.Context, orgID string, groupIDs []string) ([]string, error)
	// FilterDevices evaluates f against the non-decommissioned devices of orgID.
	FilterDevices(ctx context.Context, orgID string, f models.Filter) ([]string, error)
	// AllDevices returns every non-decommissioned device of orgID.
	AllDevices(ctx context.Context, orgID string) ([]string, error)
	// InMaintenanceWindow reports whether deviceID may be updated at now.
	InMaintenanceWindow(ctx context.Context, deviceID string, now time.Time) (bool, error)
}

// ResolveTargets expands the deployment's target into an ordered list of
// distinct device IDs. An empty result is not an error.
func ResolveTargets(ctx context.Context, dir DeviceDirectory, d *models.Deployment) ([]string, error) {
	target, err := d.Target()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDeployment, err)
	}

	var ids []string
	switch t := target.(type) {
	case models.DeviceTarget:
		ids, err = dir.DevicesInOrg(ctx, d.OrgID, t.DeviceIDs)
	case models.GroupTarget:
		ids, err = dir.GroupMembers(ctx, d.OrgID, t.GroupIDs)
	case models.FilterTarget:
		ids, err = dir.FilterDevices(ctx, d.OrgID, t.Filter)
	case models.AllTarget:
		ids, err = dir.AllDevices(ctx, d.OrgID)
	default:
		return nil, fmt.Errorf("%w: unsupported target %T", ErrInvalidDeployment, target)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s target: %w", models.TypeOf(target), err)
	}
	return dedupe(ids), nil
}

// dedupe removes repeated IDs, keeping the first occurrence.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package directory

import (
	"slices"
	"strings"

	"github.com/tomtom215/fleetrollout/internal/models"
)

// matchFilter evaluates f against dev. An empty operator means "and".
func matchFilter(f *models.Filter, dev *models.Device) bool {
	if f.Operator == models.FilterOr {
		for i := range f.Conditions {
			if matchCondition(&f.Conditions[i], dev) {
				return true
			}
		}
		return false
	}
	for i := range f.Conditions {
		if !matchCondition(&f.Conditions[i], dev) {
			return false
		}
	}
	return true
}

// matchCondition compares one device field. Tags is multi-valued: eq,
// contains and prefix hold if any tag matches, neq if none equals, and in
// if any tag is listed.
func matchCondition(c *models.Condition, dev *models.Device) bool {
	if c.Field == models.FieldTags {
		switch c.Op {
		case models.OpNotEquals:
			return !slices.Contains(dev.Tags, c.Value)
		default:
			for _, tag := range dev.Tags {
				if compare(c, tag) {
					return true
				}
			}
			return false
		}
	}
	return compare(c, scalarField(c.Field, dev))
}

func compare(c *models.Condition, v string) bool {
	switch c.Op {
	case models.OpEquals:
		return strings.EqualFold(v, c.Value)
	case models.OpNotEquals:
		return !strings.EqualFold(v, c.Value)
	case models.OpIn:
		return slices.ContainsFunc(c.Values, func(want string) bool { return strings.EqualFold(v, want) })
	case models.OpContains:
		return strings.Contains(strings.ToLower(v), strings.ToLower(c.Value))
	case models.OpPrefix:
		return strings.HasPrefix(strings.ToLower(v), strings.ToLower(c.Value))
	default:
		return false
	}
}

func scalarField(field string, dev *models.Device) string {
	switch field {
	case models.FieldOS:
		return dev.OS
	case models.FieldSiteID:
		return dev.SiteID
	case models.FieldStatus:
		return string(dev.Status)
	case models.FieldAgentVersion:
		return dev.AgentVersion
	case models.FieldHostname:
		return dev.Hostname
	default:
		return ""
	}
}

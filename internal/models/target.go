// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package models

import (
	"errors"
	"fmt"
)

// TargetType selects how a deployment's devices are chosen.
type TargetType string

const (
	TargetDevices TargetType = "devices"
	TargetGroups  TargetType = "groups"
	TargetFilter  TargetType = "filter"
	TargetAll     TargetType = "all"
)

// ErrTargetShape is returned when targetConfig does not match targetType.
var ErrTargetShape = errors.New("targetConfig does not match targetType")

// TargetConfig is the wire shape of a deployment's targeting. Exactly the
// field matching the target type may be set.
type TargetConfig struct {
	DeviceIDs []string `json:"deviceIds,omitempty"`
	GroupIDs  []string `json:"groupIds,omitempty"`
	Filter    *Filter  `json:"filter,omitempty"`
}

// Target is one of DeviceTarget, GroupTarget, FilterTarget or AllTarget.
type Target interface {
	targetType() TargetType
}

// DeviceTarget is an explicit device list.
type DeviceTarget struct{ DeviceIDs []string }

// GroupTarget is the union of the listed groups' members.
type GroupTarget struct{ GroupIDs []string }

// FilterTarget is a dynamic predicate over the inventory.
type FilterTarget struct{ Filter Filter }

// AllTarget is every non-decommissioned device in the organization.
type AllTarget struct{}

func (DeviceTarget) targetType() TargetType { return TargetDevices }
func (GroupTarget) targetType() TargetType  { return TargetGroups }
func (FilterTarget) targetType() TargetType { return TargetFilter }
func (AllTarget) targetType() TargetType    { return TargetAll }

// TypeOf returns the TargetType of a resolved variant.
func TypeOf(t Target) TargetType {
	return t.targetType()
}

// Resolve checks that c matches tt and returns the typed variant.
func (c TargetConfig) Resolve(tt TargetType) (Target, error) {
	hasDevices := len(c.DeviceIDs) > 0
	hasGroups := len(c.GroupIDs) > 0
	hasFilter := c.Filter != nil

	switch tt {
	case TargetDevices:
		if !hasDevices || hasGroups || hasFilter {
			return nil, fmt.Errorf("%w: devices requires deviceIds only", ErrTargetShape)
		}
		return DeviceTarget{DeviceIDs: c.DeviceIDs}, nil
	case TargetGroups:
		if !hasGroups || hasDevices || hasFilter {
			return nil, fmt.Errorf("%w: groups requires groupIds only", ErrTargetShape)
		}
		return GroupTarget{GroupIDs: c.GroupIDs}, nil
	case TargetFilter:
		if !hasFilter || hasDevices || hasGroups {
			return nil, fmt.Errorf("%w: filter requires filter only", ErrTargetShape)
		}
		if err := c.Filter.Validate(); err != nil {
			return nil, err
		}
		return FilterTarget{Filter: *c.Filter}, nil
	case TargetAll:
		if hasDevices || hasGroups || hasFilter {
			return nil, fmt.Errorf("%w: all takes no configuration", ErrTargetShape)
		}
		return AllTarget{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown targetType %q", ErrTargetShape, tt)
	}
}

// FilterOperator joins filter conditions.
type FilterOperator string

const (
	FilterAnd FilterOperator = "and"
	FilterOr  FilterOperator = "or"
)

// ConditionOp compares a device field with a value.
type ConditionOp string

const (
	OpEquals    ConditionOp = "eq"
	OpNotEquals ConditionOp = "neq"
	OpIn        ConditionOp = "in"
	OpContains  ConditionOp = "contains"
	OpPrefix    ConditionOp = "prefix"
)

// Filterable device fields.
const (
	FieldOS           = "os"
	FieldSiteID       = "siteId"
	FieldTags         = "tags"
	FieldStatus       = "status"
	FieldAgentVersion = "agentVersion"
	FieldHostname     = "hostname"
)

// Filter is a structured predicate evaluated by the device directory.
type Filter struct {
	Operator   FilterOperator `json:"operator,omitempty"`
	Conditions []Condition    `json:"conditions"`
}

// Condition is a single field comparison. In uses Values, every other op uses Value.
type Condition struct {
	Field  string      `json:"field"`
	Op     ConditionOp `json:"op"`
	Value  string      `json:"value,omitempty"`
	Values []string    `json:"values,omitempty"`
}

// Validate checks operators and fields.
func (f *Filter) Validate() error {
	switch f.Operator {
	case "", FilterAnd, FilterOr:
	default:
		return fmt.Errorf("%w: unknown filter operator %q", ErrTargetShape, f.Operator)
	}
	if len(f.Conditions) == 0 {
		return fmt.Errorf("%w: filter needs at least one condition", ErrTargetShape)
	}
	for i, c := range f.Conditions {
		switch c.Field {
		case FieldOS, FieldSiteID, FieldTags, FieldStatus, FieldAgentVersion, FieldHostname:
		default:
			return fmt.Errorf("%w: condition %d: unknown field %q", ErrTargetShape, i, c.Field)
		}
		switch c.Op {
		case OpEquals, OpNotEquals, OpContains, OpPrefix:
		case OpIn:
			if len(c.Values) == 0 {
				return fmt.Errorf("%w: condition %d: in requires values", ErrTargetShape, i)
			}
		default:
			return fmt.Errorf("%w: condition %d: unknown op %q", ErrTargetShape, i, c.Op)
		}
	}
	return nil
}

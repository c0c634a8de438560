// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package models

import (
	"time"
)

// DeviceStatus is the inventory state of a device.
type DeviceStatus string

const (
	DeviceOnline         DeviceStatus = "online"
	DeviceOffline        DeviceStatus = "offline"
	DeviceDecommissioned DeviceStatus = "decommissioned"
)

// Device is an enrolled endpoint.
type Device struct {
	ID                string             `json:"id" validate:"required,max=128"`
	OrgID             string             `json:"orgId" validate:"required,max=128"`
	Hostname          string             `json:"hostname,omitempty" validate:"max=255"`
	OS                string             `json:"os,omitempty" validate:"max=64"`
	SiteID            string             `json:"siteId,omitempty" validate:"max=128"`
	Tags              []string           `json:"tags,omitempty" validate:"omitempty,dive,max=64"`
	AgentVersion      string             `json:"agentVersion,omitempty" validate:"max=64"`
	Status            DeviceStatus       `json:"status" validate:"required,oneof=online offline decommissioned"`
	MaintenanceWindow *MaintenanceWindow `json:"maintenanceWindow,omitempty"`
	EnrolledAt        time.Time          `json:"enrolledAt"`
}

// Group is a named set of devices within an organization.
type Group struct {
	ID        string   `json:"id" validate:"required,max=128"`
	OrgID     string   `json:"orgId" validate:"required,max=128"`
	Name      string   `json:"name" validate:"required,max=255"`
	DeviceIDs []string `json:"deviceIds" validate:"omitempty,dive,required"`
}

// MaintenanceWindow is a recurring weekly window during which a device may
// receive deployments. StartMinute and EndMinute are minutes after local
// midnight; a window whose end is before its start crosses midnight.
type MaintenanceWindow struct {
	Days        []time.Weekday `json:"days" validate:"required,min=1,dive,min=0,max=6"`
	StartMinute int            `json:"startMinute" validate:"min=0,max=1439"`
	EndMinute   int            `json:"endMinute" validate:"min=0,max=1440"`
	Timezone    string         `json:"timezone,omitempty" validate:"omitempty,timezone"`
}

// Contains reports whether t falls inside the window.
func (w *MaintenanceWindow) Contains(t time.Time) bool {
	loc := time.UTC
	if w.Timezone != "" {
		if l, err := time.LoadLocation(w.Timezone); err == nil {
			loc = l
		}
	}
	local := t.In(loc)
	minute := local.Hour()*60 + local.Minute()

	if w.StartMinute <= w.EndMinute {
		return w.hasDay(local.Weekday()) && minute >= w.StartMinute && minute < w.EndMinute
	}
	// Crosses midnight: the late part belongs to today, the early part to yesterday's window.
	if minute >= w.StartMinute {
		return w.hasDay(local.Weekday())
	}
	if minute < w.EndMinute {
		return w.hasDay(local.AddDate(0, 0, -1).Weekday())
	}
	return false
}

func (w *MaintenanceWindow) hasDay(d time.Weekday) bool {
	for _, day := range w.Days {
		if day == d {
			return true
		}
	}
	return false
}

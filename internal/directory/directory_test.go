// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package directory

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/fleetrollout/internal/models"
)

func setupDirectory(t *testing.T) *Directory {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

// seedFleet stores five org-1 devices and one org-2 device.
func seedFleet(t *testing.T, d *Directory) {
	t.Helper()
	devices := []*models.Device{
		{ID: "d1", OrgID: "org-1", Hostname: "web-01", OS: "linux", SiteID: "ams", Tags: []string{"web", "canary"}, AgentVersion: "2.3.1", Status: models.DeviceOnline},
		{ID: "d2", OrgID: "org-1", Hostname: "web-02", OS: "linux", SiteID: "fra", Tags: []string{"web"}, AgentVersion: "2.2.0", Status: models.DeviceOffline},
		{ID: "d3", OrgID: "org-1", Hostname: "db-01", OS: "Windows", SiteID: "ams", Tags: []string{"db"}, AgentVersion: "2.3.0", Status: models.DeviceOnline},
		{ID: "d4", OrgID: "org-1", Hostname: "old-01", OS: "linux", SiteID: "ams", Status: models.DeviceDecommissioned},
		{ID: "d5", OrgID: "org-1", Hostname: "kiosk-01", OS: "android", SiteID: "lis", Status: models.DeviceOnline},
		{ID: "x1", OrgID: "org-2", Hostname: "web-01", OS: "linux", SiteID: "ams", Status: models.DeviceOnline},
	}
	for _, dev := range devices {
		if err := d.PutDevice(context.Background(), dev); err != nil {
			t.Fatalf("PutDevice(%s) error = %v", dev.ID, err)
		}
	}
}

func TestPutAndGetDevice(t *testing.T) {
	t.Parallel()
	d := setupDirectory(t)
	ctx := context.Background()
	seedFleet(t, d)

	dev, err := d.GetDevice(ctx, "org-1", "d1")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if dev.Hostname != "web-01" || dev.EnrolledAt.IsZero() {
		t.Errorf("GetDevice() = %+v", dev)
	}
	if _, err := d.GetDevice(ctx, "org-2", "d1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDevice(foreign org) error = %v, want ErrNotFound", err)
	}
	if err := d.PutDevice(ctx, &models.Device{ID: "d9"}); err == nil {
		t.Error("PutDevice() without org should fail")
	}
}

func TestPutDeviceMovesOrg(t *testing.T) {
	t.Parallel()
	d := setupDirectory(t)
	ctx := context.Background()
	seedFleet(t, d)

	moved := &models.Device{ID: "d5", OrgID: "org-2", Status: models.DeviceOnline}
	if err := d.PutDevice(ctx, moved); err != nil {
		t.Fatalf("PutDevice() error = %v", err)
	}

	org1, _ := d.ListDevices(ctx, "org-1")
	if len(org1) != 4 {
		t.Errorf("org-1 has %d devices after move, want 4", len(org1))
	}
	org2, _ := d.AllDevices(ctx, "org-2")
	if !slices.Equal(org2, []string{"d5", "x1"}) {
		t.Errorf("AllDevices(org-2) = %v, want [d5 x1]", org2)
	}
}

func TestAllDevicesExcludesDecommissioned(t *testing.T) {
	t.Parallel()
	d := setupDirectory(t)
	seedFleet(t, d)

	got, err := d.AllDevices(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("AllDevices() error = %v", err)
	}
	if want := []string{"d1", "d2", "d3", "d5"}; !slices.Equal(got, want) {
		t.Errorf("AllDevices() = %v, want %v", got, want)
	}

	empty, err := d.AllDevices(context.Background(), "org-empty")
	if err != nil || len(empty) != 0 {
		t.Errorf("AllDevices(empty org) = %v, %v; want empty", empty, err)
	}
}

func TestDevicesInOrg(t *testing.T) {
	t.Parallel()
	d := setupDirectory(t)
	seedFleet(t, d)

	got, err := d.DevicesInOrg(context.Background(), "org-1", []string{"d3", "x1", "d1", "nope", "d3", "d4"})
	if err != nil {
		t.Fatalf("DevicesInOrg() error = %v", err)
	}
	if want := []string{"d3", "d1", "d4"}; !slices.Equal(got, want) {
		t.Errorf("DevicesInOrg() = %v, want %v (input order, foreign and duplicate dropped)", got, want)
	}
}

// Org "acme" must not see devices of org "acme:eu", nor a device whose ID
// looks like the tail of such a key.
func TestOrgScopingWithColonIDs(t *testing.T) {
	t.Parallel()
	d := setupDirectory(t)
	ctx := context.Background()

	devices := []*models.Device{
		{ID: "d1", OrgID: "acme", OS: "linux", Status: models.DeviceOnline},
		{ID: "d2", OrgID: "acme:eu", OS: "linux", Status: models.DeviceOnline},
		{ID: "eu:d2", OrgID: "other", OS: "linux", Status: models.DeviceOnline},
	}
	for _, dev := range devices {
		if err := d.PutDevice(ctx, dev); err != nil {
			t.Fatalf("PutDevice(%s) error = %v", dev.ID, err)
		}
	}
	if err := d.PutGroup(ctx, &models.Group{ID: "g1", OrgID: "acme:eu", DeviceIDs: []string{"d2"}}); err != nil {
		t.Fatalf("PutGroup() error = %v", err)
	}
	if err := d.PutGroup(ctx, &models.Group{ID: "g2", OrgID: "acme", DeviceIDs: []string{"d1", "d2", "eu:d2"}}); err != nil {
		t.Fatalf("PutGroup() error = %v", err)
	}

	members, err := d.GroupMembers(ctx, "acme", []string{"g2", "g1"})
	if err != nil {
		t.Fatalf("GroupMembers() error = %v", err)
	}
	if want := []string{"d1"}; !slices.Equal(members, want) {
		t.Errorf("GroupMembers(acme) = %v, want %v", members, want)
	}

	all, err := d.AllDevices(ctx, "acme")
	if err != nil {
		t.Fatalf("AllDevices() error = %v", err)
	}
	if want := []string{"d1"}; !slices.Equal(all, want) {
		t.Errorf("AllDevices(acme) = %v, want %v", all, want)
	}

	explicit, err := d.DevicesInOrg(ctx, "acme", []string{"d1", "eu:d2", "d2"})
	if err != nil {
		t.Fatalf("DevicesInOrg() error = %v", err)
	}
	if want := []string{"d1"}; !slices.Equal(explicit, want) {
		t.Errorf("DevicesInOrg(acme) = %v, want %v", explicit, want)
	}

	filtered, err := d.FilterDevices(ctx, "acme", models.Filter{Operator: models.FilterAnd, Conditions: []models.Condition{
		{Field: models.FieldOS, Op: models.OpEquals, Value: "linux"},
	}})
	if err != nil {
		t.Fatalf("FilterDevices() error = %v", err)
	}
	if want := []string{"d1"}; !slices.Equal(filtered, want) {
		t.Errorf("FilterDevices(acme) = %v, want %v", filtered, want)
	}

	listed, err := d.ListDevices(ctx, "acme")
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(listed) != 1 || listed[0].ID != "d1" {
		t.Errorf("ListDevices(acme) = %d devices, want only d1", len(listed))
	}

	groups, err := d.ListGroups(ctx, "acme")
	if err != nil {
		t.Fatalf("ListGroups() error = %v", err)
	}
	if len(groups) != 1 || groups[0].ID != "g2" {
		t.Errorf("ListGroups(acme) = %d groups, want only g2", len(groups))
	}

	eu, err := d.AllDevices(ctx, "acme:eu")
	if err != nil {
		t.Fatalf("AllDevices(acme:eu) error = %v", err)
	}
	if want := []string{"d2"}; !slices.Equal(eu, want) {
		t.Errorf("AllDevices(acme:eu) = %v, want %v", eu, want)
	}
}

func TestPutRejectsKeySeparator(t *testing.T) {
	t.Parallel()
	d := setupDirectory(t)
	ctx := context.Background()

	if err := d.PutDevice(ctx, &models.Device{ID: "d\x00x", OrgID: "acme"}); err == nil {
		t.Error("PutDevice() with NUL in ID error = nil, want error")
	}
	if err := d.PutGroup(ctx, &models.Group{ID: "g1", OrgID: "acme\x00"}); err == nil {
		t.Error("PutGroup() with NUL in org error = nil, want error")
	}
}

func TestGroupMembers(t *testing.T) {
	t.Parallel()
	d := setupDirectory(t)
	ctx := context.Background()
	seedFleet(t, d)

	groups := []*models.Group{
		{ID: "g-web", OrgID: "org-1", Name: "web", DeviceIDs: []string{"d2", "d1"}},
		{ID: "g-ams", OrgID: "org-1", Name: "ams", DeviceIDs: []string{"d1", "d3", "x1"}},
		{ID: "g-other", OrgID: "org-2", Name: "other", DeviceIDs: []string{"x1"}},
	}
	for _, g := range groups {
		if err := d.PutGroup(ctx, g); err != nil {
			t.Fatalf("PutGroup(%s) error = %v", g.ID, err)
		}
	}

	got, err := d.GroupMembers(ctx, "org-1", []string{"g-web", "g-ams", "g-other", "g-missing"})
	if err != nil {
		t.Fatalf("GroupMembers() error = %v", err)
	}
	if want := []string{"d2", "d1", "d3"}; !slices.Equal(got, want) {
		t.Errorf("GroupMembers() = %v, want %v", got, want)
	}

	if _, err := d.GetGroup(ctx, "org-1", "g-other"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetGroup(foreign) error = %v, want ErrNotFound", err)
	}
	listed, _ := d.ListGroups(ctx, "org-1")
	if len(listed) != 2 || listed[0].ID != "g-ams" {
		t.Errorf("ListGroups() = %d groups, first %v", len(listed), listed)
	}
}

func TestFilterDevices(t *testing.T) {
	t.Parallel()
	d := setupDirectory(t)
	seedFleet(t, d)

	tests := []struct {
		name   string
		filter models.Filter
		want   []string
	}{
		{
			name:   "os eq is case-insensitive",
			filter: models.Filter{Conditions: []models.Condition{{Field: models.FieldOS, Op: models.OpEquals, Value: "windows"}}},
			want:   []string{"d3"},
		},
		{
			name: "and",
			filter: models.Filter{Operator: models.FilterAnd, Conditions: []models.Condition{
				{Field: models.FieldOS, Op: models.OpEquals, Value: "linux"},
				{Field: models.FieldSiteID, Op: models.OpEquals, Value: "ams"},
			}},
			want: []string{"d1"},
		},
		{
			name: "or",
			filter: models.Filter{Operator: models.FilterOr, Conditions: []models.Condition{
				{Field: models.FieldSiteID, Op: models.OpEquals, Value: "lis"},
				{Field: models.FieldHostname, Op: models.OpPrefix, Value: "db-"},
			}},
			want: []string{"d3", "d5"},
		},
		{
			name:   "site in",
			filter: models.Filter{Conditions: []models.Condition{{Field: models.FieldSiteID, Op: models.OpIn, Values: []string{"fra", "lis"}}}},
			want:   []string{"d2", "d5"},
		},
		{
			name:   "tag eq",
			filter: models.Filter{Conditions: []models.Condition{{Field: models.FieldTags, Op: models.OpEquals, Value: "canary"}}},
			want:   []string{"d1"},
		},
		{
			name:   "tag neq",
			filter: models.Filter{Conditions: []models.Condition{{Field: models.FieldTags, Op: models.OpNotEquals, Value: "web"}}},
			want:   []string{"d3", "d5"},
		},
		{
			name:   "agent version prefix",
			filter: models.Filter{Conditions: []models.Condition{{Field: models.FieldAgentVersion, Op: models.OpPrefix, Value: "2.3"}}},
			want:   []string{"d1", "d3"},
		},
		{
			name:   "hostname contains",
			filter: models.Filter{Conditions: []models.Condition{{Field: models.FieldHostname, Op: models.OpContains, Value: "WEB"}}},
			want:   []string{"d1", "d2"},
		},
		{
			name:   "decommissioned never matches",
			filter: models.Filter{Conditions: []models.Condition{{Field: models.FieldStatus, Op: models.OpEquals, Value: "decommissioned"}}},
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.FilterDevices(context.Background(), "org-1", tt.filter)
			if err != nil {
				t.Fatalf("FilterDevices() error = %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("FilterDevices() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterDevicesRejectsInvalidFilter(t *testing.T) {
	t.Parallel()
	d := setupDirectory(t)

	bad := models.Filter{Conditions: []models.Condition{{Field: "serial", Op: models.OpEquals, Value: "x"}}}
	if _, err := d.FilterDevices(context.Background(), "org-1", bad); !errors.Is(err, models.ErrTargetShape) {
		t.Errorf("FilterDevices() error = %v, want ErrTargetShape", err)
	}
}

func TestInMaintenanceWindow(t *testing.T) {
	t.Parallel()
	d := setupDirectory(t)
	ctx := context.Background()

	// Weeknights 22:00-02:00 UTC.
	window := &models.MaintenanceWindow{
		Days:        []time.Weekday{time.Monday, time.Tuesday},
		StartMinute: 22 * 60,
		EndMinute:   2 * 60,
	}
	devices := []*models.Device{
		{ID: "w", OrgID: "o", Status: models.DeviceOnline, MaintenanceWindow: window},
		{ID: "free", OrgID: "o", Status: models.DeviceOnline},
		{ID: "gone", OrgID: "o", Status: models.DeviceDecommissioned},
	}
	for _, dev := range devices {
		if err := d.PutDevice(ctx, dev); err != nil {
			t.Fatalf("PutDevice() error = %v", err)
		}
	}

	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) // a Monday
	tests := []struct {
		device string
		at     time.Time
		want   bool
	}{
		{"w", monday.Add(23 * time.Hour), true},
		{"w", monday.Add(25 * time.Hour), true}, // Tuesday 01:00, Monday's window
		{"w", monday.Add(12 * time.Hour), false},
		{"w", monday.Add(-time.Hour), false}, // Sunday 23:00
		{"free", monday.Add(12 * time.Hour), true},
		{"gone", monday.Add(23 * time.Hour), false},
	}
	for _, tt := range tests {
		got, err := d.InMaintenanceWindow(ctx, tt.device, tt.at)
		if err != nil {
			t.Fatalf("InMaintenanceWindow(%s) error = %v", tt.device, err)
		}
		if got != tt.want {
			t.Errorf("InMaintenanceWindow(%s, %s) = %v, want %v", tt.device, tt.at.Format(time.RFC3339), got, tt.want)
		}
	}

	if _, err := d.InMaintenanceWindow(ctx, "unknown", monday); !errors.Is(err, ErrNotFound) {
		t.Errorf("InMaintenanceWindow(unknown) error = %v, want ErrNotFound", err)
	}
}

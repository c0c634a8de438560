// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/fleetrollout/internal/logging"
	"github.com/tomtom215/fleetrollout/internal/metrics"
	"github.com/tomtom215/fleetrollout/internal/models"
)

// ErrNotFound is returned when a device or group does not exist in the org.
var ErrNotFound = errors.New("not found")

const (
	prefixDevice    = "inv:dev:"
	prefixDeviceOrg = "inv:devorg:"
	prefixGroup     = "inv:grp:"
	prefixGroupOrg  = "inv:grporg:"

	// keySep ends the org segment of index keys. IDs never contain it, so
	// org "acme" cannot prefix-match org "acme:eu".
	keySep = "\x00"
)

// Directory is a Badger-backed device inventory.
type Directory struct {
	db *badger.DB
}

// New returns a Directory over db. The database is owned by the caller.
func New(db *badger.DB) *Directory {
	return &Directory{db: db}
}

func deviceKey(id string) []byte         { return []byte(prefixDevice + id) }
func deviceOrgKey(org, id string) []byte { return []byte(prefixDeviceOrg + org + keySep + id) }
func deviceOrgPrefix(org string) []byte  { return []byte(prefixDeviceOrg + org + keySep) }
func groupKey(id string) []byte          { return []byte(prefixGroup + id) }
func groupOrgKey(org, id string) []byte  { return []byte(prefixGroupOrg + org + keySep + id) }
func groupOrgPrefix(org string) []byte   { return []byte(prefixGroupOrg + org + keySep) }

// PutDevice creates or replaces a device. Moving a device to another org
// drops it from the old org's index.
func (d *Directory) PutDevice(_ context.Context, dev *models.Device) error {
	if dev.ID == "" || dev.OrgID == "" {
		return errors.New("device id and orgId are required")
	}
	if strings.Contains(dev.ID, keySep) || strings.Contains(dev.OrgID, keySep) {
		return errors.New("device id and orgId must not contain NUL")
	}
	if dev.EnrolledAt.IsZero() {
		dev.EnrolledAt = time.Now().UTC()
	}

	start := time.Now()
	defer func() { metrics.RecordStoreOperation("put_device", time.Since(start)) }()

	return d.db.Update(func(txn *badger.Txn) error {
		var prev models.Device
		err := getJSON(txn, deviceKey(dev.ID), &prev)
		switch {
		case err == nil && prev.OrgID != dev.OrgID:
			if err := txn.Delete(deviceOrgKey(prev.OrgID, dev.ID)); err != nil {
				return fmt.Errorf("delete org index: %w", err)
			}
		case err != nil && !errors.Is(err, ErrNotFound):
			return err
		}

		if err := setJSON(txn, deviceKey(dev.ID), dev); err != nil {
			return err
		}
		return txn.Set(deviceOrgKey(dev.OrgID, dev.ID), []byte{})
	})
}

// GetDevice returns a device of the org.
func (d *Directory) GetDevice(_ context.Context, orgID, id string) (*models.Device, error) {
	var dev models.Device
	err := d.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, deviceKey(id), &dev)
	})
	if err == nil && dev.OrgID != orgID {
		err = ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", id, err)
	}
	return &dev, nil
}

// ListDevices returns every device of the org, decommissioned included,
// ordered by device ID.
func (d *Directory) ListDevices(_ context.Context, orgID string) ([]*models.Device, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOperation("list_devices", time.Since(start)) }()

	var out []*models.Device
	err := d.db.View(func(txn *badger.Txn) error {
		devs, err := loadOrgDevices(txn, orgID)
		out = devs
		return err
	})
	return out, err
}

// PutGroup creates or replaces a group.
func (d *Directory) PutGroup(_ context.Context, g *models.Group) error {
	if g.ID == "" || g.OrgID == "" {
		return errors.New("group id and orgId are required")
	}
	if strings.Contains(g.ID, keySep) || strings.Contains(g.OrgID, keySep) {
		return errors.New("group id and orgId must not contain NUL")
	}
	return d.db.Update(func(txn *badger.Txn) error {
		var prev models.Group
		err := getJSON(txn, groupKey(g.ID), &prev)
		switch {
		case err == nil && prev.OrgID != g.OrgID:
			if err := txn.Delete(groupOrgKey(prev.OrgID, g.ID)); err != nil {
				return fmt.Errorf("delete org index: %w", err)
			}
		case err != nil && !errors.Is(err, ErrNotFound):
			return err
		}

		if err := setJSON(txn, groupKey(g.ID), g); err != nil {
			return err
		}
		return txn.Set(groupOrgKey(g.OrgID, g.ID), []byte{})
	})
}

// GetGroup returns a group of the org.
func (d *Directory) GetGroup(_ context.Context, orgID, id string) (*models.Group, error) {
	var g models.Group
	err := d.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, groupKey(id), &g)
	})
	if err == nil && g.OrgID != orgID {
		err = ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", id, err)
	}
	return &g, nil
}

// ListGroups returns the groups of the org ordered by group ID.
func (d *Directory) ListGroups(_ context.Context, orgID string) ([]*models.Group, error) {
	var out []*models.Group
	err := d.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: groupOrgPrefix(orgID)})
		defer it.Close()

		prefix := groupOrgPrefix(orgID)
		for it.Rewind(); it.Valid(); it.Next() {
			id := string(it.Item().Key()[len(prefix):])
			var g models.Group
			if err := getJSON(txn, groupKey(id), &g); err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			if g.OrgID != orgID {
				continue
			}
			out = append(out, &g)
		}
		return nil
	})
	return out, err
}

// DevicesInOrg returns ids, in input order without duplicates, restricted
// to devices that exist in the org. Foreign and unknown IDs are dropped.
func (d *Directory) DevicesInOrg(_ context.Context, orgID string, ids []string) ([]string, error) {
	var out []string
	err := d.db.View(func(txn *badger.Txn) error {
		out = out[:0]
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ok, err := deviceInOrg(txn, orgID, id)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, id)
			}
		}
		return nil
	})
	dropped := len(ids) - len(out)
	if err == nil && dropped > 0 {
		logging.Debug().
			Str("org_id", orgID).
			Int("dropped", dropped).
			Msg("Dropped foreign or duplicate device IDs from explicit target")
	}
	return out, err
}

// GroupMembers returns the union of the groups' members in the org, in
// group order then member order, deduplicated. Unknown or foreign groups
// and members are ignored.
func (d *Directory) GroupMembers(_ context.Context, orgID string, groupIDs []string) ([]string, error) {
	var out []string
	err := d.db.View(func(txn *badger.Txn) error {
		out = out[:0]
		seen := make(map[string]struct{})
		for _, gid := range groupIDs {
			var g models.Group
			if err := getJSON(txn, groupKey(gid), &g); err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			if g.OrgID != orgID {
				continue
			}
			for _, id := range g.DeviceIDs {
				if _, dup := seen[id]; dup {
					continue
				}
				ok, err := deviceInOrg(txn, orgID, id)
				if err != nil {
					return err
				}
				if ok {
					seen[id] = struct{}{}
					out = append(out, id)
				}
			}
		}
		return nil
	})
	return out, err
}

// FilterDevices evaluates f over the org's non-decommissioned devices and
// returns matching IDs ordered by device ID.
func (d *Directory) FilterDevices(_ context.Context, orgID string, f models.Filter) ([]string, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return d.selectDevices(orgID, "filter_devices", func(dev *models.Device) bool {
		return matchFilter(&f, dev)
	})
}

// AllDevices returns every non-decommissioned device of the org ordered by device ID.
func (d *Directory) AllDevices(_ context.Context, orgID string) ([]string, error) {
	return d.selectDevices(orgID, "all_devices", func(*models.Device) bool { return true })
}

func (d *Directory) selectDevices(orgID, op string, match func(*models.Device) bool) ([]string, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOperation(op, time.Since(start)) }()

	var out []string
	err := d.db.View(func(txn *badger.Txn) error {
		devs, err := loadOrgDevices(txn, orgID)
		if err != nil {
			return err
		}
		out = make([]string, 0, len(devs))
		for _, dev := range devs {
			if dev.Status == models.DeviceDecommissioned {
				continue
			}
			if match(dev) {
				out = append(out, dev.ID)
			}
		}
		return nil
	})
	return out, err
}

// InMaintenanceWindow reports whether the device may receive a deployment
// at now. Devices without a window are always in window. Unknown devices
// are reported out of window with ErrNotFound; decommissioned devices are
// never in window.
func (d *Directory) InMaintenanceWindow(_ context.Context, deviceID string, now time.Time) (bool, error) {
	var dev models.Device
	if err := d.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, deviceKey(deviceID), &dev)
	}); err != nil {
		return false, fmt.Errorf("device %s: %w", deviceID, err)
	}
	if dev.Status == models.DeviceDecommissioned {
		logging.Trace().Str("device_id", deviceID).Msg("Device is decommissioned")
		return false, nil
	}
	if dev.MaintenanceWindow == nil {
		return true, nil
	}
	return dev.MaintenanceWindow.Contains(now), nil
}

func loadOrgDevices(txn *badger.Txn, orgID string) ([]*models.Device, error) {
	prefix := deviceOrgPrefix(orgID)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()

	var out []*models.Device
	for it.Rewind(); it.Valid(); it.Next() {
		id := string(it.Item().Key()[len(prefix):])
		var dev models.Device
		if err := getJSON(txn, deviceKey(id), &dev); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if dev.OrgID != orgID {
			continue
		}
		out = append(out, &dev)
	}
	return out, nil
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

// deviceInOrg reports whether the device record exists and belongs to orgID.
// The device record is authoritative; index keys are only used for scans.
func deviceInOrg(txn *badger.Txn, orgID, id string) (bool, error) {
	var dev models.Device
	err := getJSON(txn, deviceKey(id), &dev)
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return dev.OrgID == orgID, nil
}

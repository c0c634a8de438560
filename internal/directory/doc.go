// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

/*
Package directory is the device inventory consulted by the rollout engine:
devices, groups, filter evaluation and maintenance windows.

It keeps its own key space inside the shared Badger database:

	inv:dev:<deviceID>            -> models.Device (JSON)
	inv:devorg:<orgID>\x00<deviceID> -> empty (per-org index)
	inv:grp:<groupID>             -> models.Group (JSON)
	inv:grporg:<orgID>\x00<groupID>  -> empty (per-org index)

All lookups are scoped to an organization; a device or group that belongs
to another org is treated as if it did not exist.
*/
package directory

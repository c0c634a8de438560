// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package store

import "fmt"

const (
	prefixDeployment = "dep:"
	prefixOrgIndex   = "deporg:"
	prefixItem       = "item:"
	prefixItemIndex  = "itemidx:"
	prefixLease      = "lease:"

	// keySep ends the variable segment of composite keys. IDs never contain
	// it, so a prefix scan for "acme" cannot match "acme:eu".
	keySep = "\x00"
)

func deploymentKey(id string) []byte {
	return []byte(prefixDeployment + id)
}

func orgIndexKey(orgID, id string) []byte {
	return []byte(prefixOrgIndex + orgID + keySep + id)
}

func orgIndexPrefix(orgID string) []byte {
	return []byte(prefixOrgIndex + orgID + keySep)
}

func itemKey(deploymentID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s%s%010d", prefixItem, deploymentID, keySep, seq))
}

func itemPrefix(deploymentID string) []byte {
	return []byte(prefixItem + deploymentID + keySep)
}

func itemIndexKey(deploymentID, deviceID string) []byte {
	return []byte(prefixItemIndex + deploymentID + keySep + deviceID)
}

func leaseKey(deploymentID string) []byte {
	return []byte(prefixLease + deploymentID)
}

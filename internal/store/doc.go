// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

/*
Package store persists deployments, device work items and driver leases in
BadgerDB.

Every mutation is a single serializable Badger transaction. Status changes are
compare-and-set against an allowed set of source statuses, and the retry
counter of a work item is incremented inside the same transaction that reads
it, so concurrent retry requests can never push retryCount past maxRetries.
Transactions that lose a write conflict are retried a bounded number of times.

Key layout:

	dep:<deploymentID>                  Deployment (JSON)
	deporg:<orgID>\x00<deploymentID>    org index (empty value)
	item:<deploymentID>\x00<seq>        DeviceWorkItem (JSON), seq is zero padded
	itemidx:<deploymentID>\x00<deviceID> seq of the device's item
	lease:<deploymentID>                driver Lease (JSON)

IDs may contain ':' but never NUL, so the NUL separator keeps prefix scans
for one org or deployment from reaching another whose ID extends it.
Items are keyed by their resolution sequence so that a prefix scan returns
them in target resolution order.
*/
package store

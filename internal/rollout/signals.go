// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package rollout

import "sync"

// notifier fans out "deployment changed" signals. Signals coalesce: a
// subscriber that has not consumed the previous signal misses nothing but
// the duplicate.
type notifier struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[string]map[chan struct{}]struct{})}
}

// subscribe returns a channel signalled on every change of deploymentID and
// a function that removes the subscription.
func (n *notifier) subscribe(deploymentID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	set, ok := n.subs[deploymentID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		n.subs[deploymentID] = set
	}
	set[ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(set, ch)
			if len(n.subs[deploymentID]) == 0 {
				delete(n.subs, deploymentID)
			}
		})
	}
}

// notify signals every subscriber of deploymentID without blocking.
func (n *notifier) notify(deploymentID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs[deploymentID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// subscribers returns the number of live subscriptions for deploymentID.
func (n *notifier) subscribers(deploymentID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[deploymentID])
}

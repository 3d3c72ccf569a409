// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package model holds the one piece of state that several otherwise
// independent collaborators (the dialer, the controller) all branch on:
// a peer device's connection lifecycle (§3, §4.3). It is kept as its own
// typed state machine, rather than a string or a pair of booleans
// threaded through the dialer, because an invalid transition (discovered
// jumping straight to connecting, online going straight to dialing) is a
// programming error worth catching at the point it happens instead of
// silently producing an inconsistent redial/session state.
package model

import (
	"fmt"
	"sync"
	"time"

	"github.com/syncspirit/syncspirit/events"
)

// DeviceState enumerates every state a peer device can be observed in
// (§3): unknown before the first observation, offline while no session
// and no dial attempt is in flight, dialing/connecting while the
// initiator works through a candidate address, connected once the BEP
// TLS handshake completes, online once a ClusterConfig has been
// exchanged, and discovering/discovered while the (external) discovery
// collaborators are resolving an address for a device with no static
// URI configured.
type DeviceState int

const (
	StateUnknown DeviceState = iota
	StateOffline
	StateDiscovering
	StateDiscovered
	StateDialing
	StateConnecting
	StateConnected
	StateOnline
)

func (s DeviceState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateOffline:
		return "offline"
	case StateDiscovering:
		return "discovering"
	case StateDiscovered:
		return "discovered"
	case StateDialing:
		return "dialing"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateOnline:
		return "online"
	default:
		return "unknown"
	}
}

// validTransitions enumerates every edge the device lifecycle allows.
// Anything not listed here is a programming error: Set panics rather
// than silently accepting it, the same way an illegal folder-state
// transition would be caught if the reference tracker's commented-out
// check were turned on.
var validTransitions = map[DeviceState][]DeviceState{
	StateUnknown:     {StateOffline},
	StateOffline:     {StateDiscovering, StateDialing},
	StateDiscovering: {StateDiscovered, StateOffline},
	StateDiscovered:  {StateDialing, StateOffline},
	StateDialing:     {StateConnecting, StateOffline},
	StateConnecting:  {StateConnected, StateOffline},
	StateConnected:   {StateOnline, StateOffline},
	StateOnline:      {StateOffline},
}

// StateTracker is one device's current state plus the time it last
// changed, guarded by a mutex and broadcast through an events.Logger the
// same way the reference folder-state tracker logs to its event bus.
type StateTracker struct {
	device string
	bus    *events.Logger

	mu      sync.Mutex
	current DeviceState
	changed time.Time
}

// NewStateTracker returns a tracker starting in StateUnknown. bus may be
// nil, in which case transitions are tracked but never logged (tests).
func NewStateTracker(device string, bus *events.Logger) *StateTracker {
	return &StateTracker{device: device, bus: bus, current: StateUnknown, changed: time.Now()}
}

// Set transitions the tracker to next. Setting the state already held is
// a no-op. Any other transition not present in validTransitions panics:
// it means a caller drove the lifecycle out of order.
func (t *StateTracker) Set(next DeviceState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if next == t.current {
		return
	}
	if !isAllowed(t.current, next) {
		panic(fmt.Sprintf("model: illegal device state transition %s -> %s for %s", t.current, next, t.device))
	}

	prev := t.current
	t.current = next
	t.changed = time.Now()

	if t.bus != nil {
		t.bus.Log(events.StateChanged, map[string]interface{}{
			"device": t.device,
			"from":   prev.String(),
			"to":     next.String(),
		})
	}
}

// Get returns the current state and when it was last set.
func (t *StateTracker) Get() (DeviceState, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.changed
}

func isAllowed(from, to DeviceState) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package model

import "testing"

func TestStateTrackerHappyPath(t *testing.T) {
	st := NewStateTracker("aaaaaaa", nil)

	path := []DeviceState{
		StateOffline, StateDialing, StateConnecting, StateConnected, StateOnline, StateOffline,
	}
	for _, next := range path {
		st.Set(next)
		if got, _ := st.Get(); got != next {
			t.Fatalf("Get() = %v, want %v", got, next)
		}
	}
}

func TestStateTrackerDiscoveryPath(t *testing.T) {
	st := NewStateTracker("aaaaaaa", nil)
	st.Set(StateOffline)
	st.Set(StateDiscovering)
	st.Set(StateDiscovered)
	st.Set(StateDialing)
	if got, _ := st.Get(); got != StateDialing {
		t.Fatalf("Get() = %v, want %v", got, StateDialing)
	}
}

func TestStateTrackerSameStateIsNoop(t *testing.T) {
	st := NewStateTracker("aaaaaaa", nil)
	st.Set(StateOffline)
	st.Set(StateOffline) // must not panic
	if got, _ := st.Get(); got != StateOffline {
		t.Fatalf("Get() = %v, want %v", got, StateOffline)
	}
}

func TestStateTrackerIllegalTransitionPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on illegal transition")
		}
	}()

	st := NewStateTracker("aaaaaaa", nil)
	st.Set(StateOffline)
	st.Set(StateDiscovered) // offline -> discovered skips discovering
}

func TestStateTrackerIllegalTransitionFromOnlinePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on illegal transition")
		}
	}()

	st := NewStateTracker("aaaaaaa", nil)
	st.Set(StateOffline)
	st.Set(StateDialing)
	st.Set(StateConnecting)
	st.Set(StateConnected)
	st.Set(StateOnline)
	st.Set(StateDialing) // online -> dialing skips offline
}

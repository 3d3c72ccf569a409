// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package versioner

import (
	"testing"
	"time"

	"github.com/syncspirit/syncspirit/protocol"
)

func TestDecideRemoteWins(t *testing.T) {
	local := protocol.FileInfo{Version: protocol.Vector{{ID: "aaaaaaa", Value: 1}}}
	remote := protocol.FileInfo{Version: protocol.Vector{{ID: "aaaaaaa", Value: 2}}}

	if d := Decide(local, remote, false); d != DecisionRemoteWins {
		t.Errorf("expected remote-wins, got %v", d)
	}
}

func TestDecideLocalWins(t *testing.T) {
	local := protocol.FileInfo{Version: protocol.Vector{{ID: "aaaaaaa", Value: 2}}}
	remote := protocol.FileInfo{Version: protocol.Vector{{ID: "aaaaaaa", Value: 1}}}

	if d := Decide(local, remote, false); d != DecisionLocalWins {
		t.Errorf("expected local-wins, got %v", d)
	}
}

func TestDecideConflictModifiedSBreaksTie(t *testing.T) {
	local := protocol.FileInfo{
		ModifiedS: 200,
		Version:   protocol.Vector{{ID: "aaaaaaa", Value: 2}, {ID: "bbbbbbb", Value: 1}},
	}
	remote := protocol.FileInfo{
		ModifiedS: 100,
		Version:   protocol.Vector{{ID: "aaaaaaa", Value: 1}, {ID: "bbbbbbb", Value: 2}},
	}

	d := Decide(local, remote, false)
	if !d.Conflict() {
		t.Fatalf("expected a conflict decision, got %v", d)
	}
	if d != DecisionConflictLocalWins {
		t.Errorf("expected conflict-local-wins (higher ModifiedS), got %v", d)
	}
}

func TestDecideConflictMaxCounterBreaksTie(t *testing.T) {
	local := protocol.FileInfo{
		ModifiedS: 100,
		Version:   protocol.Vector{{ID: "aaaaaaa", Value: 2}, {ID: "bbbbbbb", Value: 1}},
	}
	remote := protocol.FileInfo{
		ModifiedS: 100,
		Version:   protocol.Vector{{ID: "aaaaaaa", Value: 1}, {ID: "bbbbbbb", Value: 3}},
	}

	if d := Decide(local, remote, false); d != DecisionConflictRemoteWins {
		t.Errorf("expected conflict-remote-wins (higher MaxCounter), got %v", d)
	}
}

func TestDecideConflictOriginatorBreaksFinalTie(t *testing.T) {
	local := protocol.FileInfo{
		ModifiedS: 100,
		Version:   protocol.Vector{{ID: "aaaaaaa", Value: 2}, {ID: "bbbbbbb", Value: 1}},
	}
	remote := protocol.FileInfo{
		ModifiedS: 100,
		Version:   protocol.Vector{{ID: "ccccccc", Value: 2}, {ID: "bbbbbbb", Value: 1}},
	}

	// Equal ModifiedS, equal MaxCounter (2 on both sides); "ccccccc" > "aaaaaaa"
	// lexicographically, so the remote side's originator wins the final tiebreak.
	if d := Decide(local, remote, false); d != DecisionConflictRemoteWins {
		t.Errorf("expected conflict-remote-wins (originator tiebreak), got %v", d)
	}
}

func TestDecideDirtyLocalAlwaysWinsConflict(t *testing.T) {
	local := protocol.FileInfo{
		ModifiedS: 50, // older than remote, and a lower MaxCounter
		Version:   protocol.Vector{{ID: "aaaaaaa", Value: 2}, {ID: "bbbbbbb", Value: 1}},
	}
	remote := protocol.FileInfo{
		ModifiedS: 900,
		Version:   protocol.Vector{{ID: "aaaaaaa", Value: 1}, {ID: "bbbbbbb", Value: 3}},
	}

	if d := Decide(local, remote, true); d != DecisionConflictLocalWins {
		t.Errorf("expected conflict-local-wins for a dirty local file, got %v", d)
	}
}

func TestConflictName(t *testing.T) {
	at := time.Date(2024, 3, 5, 13, 45, 30, 0, time.UTC)
	got := ConflictName("docs/report.txt", at, "abcdefg")
	want := "docs/report.sync-conflict-20240305-134530-abcdefg.txt"
	if got != want {
		t.Errorf("ConflictName() = %q, want %q", got, want)
	}
	if !IsConflictCopy(got) {
		t.Errorf("expected %q to be recognized as a conflict copy", got)
	}
	if IsConflictCopy("docs/report.txt") {
		t.Errorf("plain file should not be recognized as a conflict copy")
	}
}

// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package stats

import (
	"testing"
	"time"

	"github.com/syncspirit/syncspirit/storage"
)

func openTestStore(t *testing.T) storage.Store {
	t.Helper()
	db, err := storage.OpenLevelDBMemory()
	if err != nil {
		t.Fatalf("OpenLevelDBMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDeviceReferenceNeverSeen(t *testing.T) {
	db := openTestStore(t)
	r := NewDeviceReference(db, "ABCDEFG")
	if !r.LastSeen().IsZero() {
		t.Fatal("expected zero time for a device never seen")
	}
}

func TestDeviceReferenceWasSeen(t *testing.T) {
	db := openTestStore(t)
	r := NewDeviceReference(db, "ABCDEFG")

	before := time.Now().Add(-time.Second)
	if err := r.WasSeen(); err != nil {
		t.Fatalf("WasSeen: %v", err)
	}
	seen := r.LastSeen()
	if seen.Before(before) {
		t.Fatalf("LastSeen %v is before the call to WasSeen", seen)
	}
}

func TestFolderCompletionRoundTrip(t *testing.T) {
	db := openTestStore(t)
	r := NewFolderReference(db, "docs")

	want := FolderCompletion{
		At: time.Now().Truncate(time.Second).UTC(),
		NeedBytes: 10, NeedItems: 1,
		GlobalBytes: 100, GlobalItems: 5,
	}
	if err := r.SetCompletion(want); err != nil {
		t.Fatalf("SetCompletion: %v", err)
	}

	got, err := r.Completion()
	if err != nil {
		t.Fatalf("Completion: %v", err)
	}
	if !got.At.Equal(want.At) || got.NeedBytes != want.NeedBytes || got.GlobalBytes != want.GlobalBytes {
		t.Fatalf("Completion() = %+v, want %+v", got, want)
	}
	if pct := got.CompletionPercent(); pct != 90 {
		t.Fatalf("CompletionPercent() = %v, want 90", pct)
	}
}

func TestFolderCompletionEmptyFolderIsComplete(t *testing.T) {
	db := openTestStore(t)
	r := NewFolderReference(db, "empty")

	got, err := r.Completion()
	if err != nil {
		t.Fatalf("Completion: %v", err)
	}
	if pct := got.CompletionPercent(); pct != 100 {
		t.Fatalf("CompletionPercent() = %v, want 100", pct)
	}
}

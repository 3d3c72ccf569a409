// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package controller

import (
	"context"
	"testing"
	"time"

	"github.com/syncspirit/syncspirit/fileactor"
	"github.com/syncspirit/syncspirit/protocol"
	"github.com/syncspirit/syncspirit/storage"
)

func newTestController(t *testing.T) (*Controller, protocol.DeviceID) {
	t.Helper()

	db, err := storage.OpenLevelDBMemory()
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := storage.NewFileStore(db)

	actor, err := fileactor.New(2, nil)
	if err != nil {
		t.Fatalf("new actor: %v", err)
	}
	t.Cleanup(func() { actor.Close() })

	local := protocol.DeviceIDFromBytes(make([]byte, 32))
	c := New(local, store, actor, 2, 4*protocol.BlockSize)
	t.Cleanup(func() { c.hash.Close() })
	return c, local
}

// fakeConn is a minimal protocol.Connection stand-in recording what the
// controller sent it, so ClusterConfig/Index handling can be exercised
// without a real transport.
type fakeConn struct {
	id       protocol.DeviceID
	closed   bool
	closeErr error
	indexed  [][]protocol.FileInfo
}

func (f *fakeConn) Start()                {}
func (f *fakeConn) ID() protocol.DeviceID { return f.id }
func (f *fakeConn) Index(folder string, files []protocol.FileInfo) error {
	f.indexed = append(f.indexed, files)
	return nil
}
func (f *fakeConn) IndexUpdate(folder string, files []protocol.FileInfo) error { return nil }
func (f *fakeConn) Request(folder, name string, offset int64, size uint32, hash []byte) ([]byte, error) {
	return nil, nil
}
func (f *fakeConn) ClusterConfig(config protocol.ClusterConfigMessage) {}
func (f *fakeConn) Ping() bool                                        { return true }
func (f *fakeConn) Close(err error) {
	f.closed = true
	f.closeErr = err
}
func (f *fakeConn) Closed() bool                  { return f.closed }
func (f *fakeConn) Statistics() protocol.Statistics { return protocol.Statistics{} }

func deviceFromByte(b byte) protocol.DeviceID {
	raw := make([]byte, 32)
	raw[0] = b
	return protocol.DeviceIDFromBytes(raw)
}

func TestClusterConfigIgnoresUnknownFolder(t *testing.T) {
	c, _ := newTestController(t)
	peer := deviceFromByte(1)

	c.AddFolder(Folder{ID: "known", LocalPath: t.TempDir(), Devices: []string{peer.Short()}})

	c.mu.Lock()
	before := len(c.remote)
	c.mu.Unlock()

	c.ClusterConfig(peer, protocol.ClusterConfigMessage{
		Folders: []protocol.Folder{{ID: "unknown-to-us"}},
	})

	c.mu.Lock()
	after := len(c.remote)
	c.mu.Unlock()

	if after != before {
		t.Errorf("expected unknown folder to be ignored, remote map grew from %d to %d", before, after)
	}
}

func TestClusterConfigRecordsPeerState(t *testing.T) {
	c, local := newTestController(t)
	peer := deviceFromByte(2)

	c.AddFolder(Folder{ID: "f1", LocalPath: t.TempDir(), Devices: []string{peer.Short()}})

	c.ClusterConfig(peer, protocol.ClusterConfigMessage{
		Folders: []protocol.Folder{{
			ID: "f1",
			Devices: []protocol.Device{
				{ID: peer[:], IndexID: 77, MaxSequence: 10},
				{ID: local[:], IndexID: 1, MaxSequence: 0},
			},
		}},
	})

	c.mu.Lock()
	state := c.remote["f1"][peer.Short()]
	c.mu.Unlock()

	if state.IndexID != 77 || state.MaxSequence != 10 {
		t.Errorf("expected recorded state {77 10}, got %+v", state)
	}
}

func TestClusterConfigResendsIndexWhenPeerBehind(t *testing.T) {
	c, local := newTestController(t)
	peer := deviceFromByte(3)

	c.AddFolder(Folder{ID: "f1", LocalPath: t.TempDir(), Devices: []string{peer.Short()}})

	if err := c.store.Replace("f1", local.Short(), []protocol.FileInfo{
		{Name: "a", Sequence: 5, Version: protocol.Vector{{ID: local.Short(), Value: 1}}},
	}); err != nil {
		t.Fatalf("seed local index: %v", err)
	}

	conn := &fakeConn{id: peer}
	c.mu.Lock()
	c.conns[peer.Short()] = conn
	c.mu.Unlock()

	c.ClusterConfig(peer, protocol.ClusterConfigMessage{
		Folders: []protocol.Folder{{
			ID: "f1",
			Devices: []protocol.Device{
				{ID: local[:], IndexID: 1, MaxSequence: 0},
			},
		}},
	})

	if len(conn.indexed) != 1 || len(conn.indexed[0]) != 1 {
		t.Fatalf("expected a full Index resend with 1 file, got %v", conn.indexed)
	}
}

func TestClusterConfigFiresOnlineHook(t *testing.T) {
	c, _ := newTestController(t)
	peer := deviceFromByte(4)
	c.AddFolder(Folder{ID: "f1", LocalPath: t.TempDir(), Devices: []string{peer.Short()}})

	fired := make(chan protocol.DeviceID, 1)
	c.SetOnlineHook(func(id protocol.DeviceID) { fired <- id })

	c.ClusterConfig(peer, protocol.ClusterConfigMessage{})

	select {
	case got := <-fired:
		if got != peer {
			t.Errorf("hook fired with %v, want %v", got, peer)
		}
	case <-time.After(time.Second):
		t.Fatal("online hook never fired")
	}
}

func TestIndexRejectsUnsharedFolder(t *testing.T) {
	c, _ := newTestController(t)
	peer := deviceFromByte(5)
	c.AddFolder(Folder{ID: "f1", LocalPath: t.TempDir()}) // no Devices: not shared with peer

	conn := &fakeConn{id: peer}
	c.mu.Lock()
	c.conns[peer.Short()] = conn
	c.mu.Unlock()

	c.Index(peer, "f1", []protocol.FileInfo{{Name: "a", Sequence: 1}})

	if !conn.closed {
		t.Error("expected session to be closed for an unshared folder")
	}
}

func TestIndexRejectsSequenceRegression(t *testing.T) {
	c, _ := newTestController(t)
	peer := deviceFromByte(6)
	c.AddFolder(Folder{ID: "f1", LocalPath: t.TempDir(), Devices: []string{peer.Short()}})

	conn := &fakeConn{id: peer}
	c.mu.Lock()
	c.conns[peer.Short()] = conn
	c.mu.Unlock()

	c.Index(peer, "f1", []protocol.FileInfo{{Name: "a", Sequence: 10}})
	if conn.closed {
		t.Fatal("first Index should not have been rejected")
	}

	c.IndexUpdate(peer, "f1", []protocol.FileInfo{{Name: "b", Sequence: 5}})
	if !conn.closed {
		t.Error("expected session to be closed for a non-increasing sequence")
	}
}

func TestIndexAcceptsIncreasingSequence(t *testing.T) {
	c, _ := newTestController(t)
	peer := deviceFromByte(7)
	c.AddFolder(Folder{ID: "f1", LocalPath: t.TempDir(), Devices: []string{peer.Short()}})

	conn := &fakeConn{id: peer}
	c.mu.Lock()
	c.conns[peer.Short()] = conn
	c.mu.Unlock()

	c.Index(peer, "f1", []protocol.FileInfo{{Name: "a", Sequence: 1}})
	c.IndexUpdate(peer, "f1", []protocol.FileInfo{{Name: "a", Sequence: 2}})

	if conn.closed {
		t.Error("expected strictly increasing sequences to be accepted")
	}

	have, ok, err := c.store.Get("f1", peer.Short(), "a")
	if err != nil || !ok {
		t.Fatalf("expected stored file, got ok=%v err=%v", ok, err)
	}
	if have.Sequence != 2 {
		t.Errorf("expected latest sequence 2, got %d", have.Sequence)
	}
}

func TestWakeSkipsUnreachableUntilNewerVersion(t *testing.T) {
	c, local := newTestController(t)
	peer := deviceFromByte(8)
	c.AddFolder(Folder{ID: "f1", LocalPath: t.TempDir(), Devices: []string{peer.Short()}})

	oldVersion := protocol.Vector{{ID: peer.Short(), Value: 1}}
	newVersion := protocol.Vector{{ID: peer.Short(), Value: 2}}

	if err := c.store.Replace("f1", peer.Short(), []protocol.FileInfo{
		{Name: "a", Sequence: 1, Version: oldVersion},
	}); err != nil {
		t.Fatalf("seed remote index: %v", err)
	}
	c.markUnreachable("f1", "a", oldVersion)

	c.wake("f1")
	q := c.queues["f1"]
	if queued, _ := q.Lengths(); queued != 0 {
		t.Errorf("expected file still at the unreachable version to stay skipped, queued=%d", queued)
	}

	if err := c.store.Replace("f1", peer.Short(), []protocol.FileInfo{
		{Name: "a", Sequence: 2, Version: newVersion},
	}); err != nil {
		t.Fatalf("advance remote index: %v", err)
	}

	_ = local
	c.wake("f1")
	// pull runs in its own goroutine and will fail fast (no connection for
	// "a"'s only device), but the point under test is only that wake no
	// longer filters the name out before ever queueing it.
	time.Sleep(50 * time.Millisecond)
}

func TestRequestPoolAcquireRelease(t *testing.T) {
	p := newRequestPool(10)

	if err := p.acquire(context.Background(), 6); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- p.acquire(context.Background(), 6)
	}()

	select {
	case <-done:
		t.Fatal("second acquire should block until the pool has enough budget")
	case <-time.After(50 * time.Millisecond):
	}

	p.release(6)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("acquire after release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("acquire never unblocked after release")
	}
}

func TestRequestPoolAcquireRespectsContextCancellation(t *testing.T) {
	p := newRequestPool(1)
	if err := p.acquire(context.Background(), 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := p.acquire(ctx, 1); err == nil {
		t.Error("expected acquire to fail once its context is done")
	}
}

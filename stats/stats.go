// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package stats persists per-device and per-folder accounting the core
// doesn't need for sync decisions but is cheap to keep and useful to any
// external surface (a UI, a metrics exporter) built on top of it: last
// time a device was seen connected, and a folder's last completion
// summary.
package stats

import (
	"bytes"
	"encoding/binary"
	"os"
	"strings"
	"time"

	"github.com/syncspirit/syncspirit/storage"
)

var debug = strings.Contains(os.Getenv("SPTRACE"), "stats") || os.Getenv("SPTRACE") == "all"

const (
	keyTypeDeviceLastSeen byte = iota
	keyTypeFolderCompletion
)

// DeviceStatistics is the record kept per connected device.
type DeviceStatistics struct {
	LastSeen time.Time
}

// DeviceReference reads and writes one device's statistics, keyed by its
// short ID rather than the raw 32-byte identity since that's what the
// rest of the core already uses to address devices.
type DeviceReference struct {
	db     storage.Store
	device string
}

func NewDeviceReference(db storage.Store, device string) *DeviceReference {
	return &DeviceReference{db: db, device: device}
}

func (r *DeviceReference) key() []byte {
	k := make([]byte, 1+len(r.device))
	k[0] = keyTypeDeviceLastSeen
	copy(k[1:], r.device)
	return k
}

// WasSeen records that the device is connected right now.
func (r *DeviceReference) WasSeen() error {
	value, err := time.Now().MarshalBinary()
	if err != nil {
		return err
	}
	b := r.db.NewBatch()
	b.Put(r.key(), value)
	return r.db.Write(b)
}

// LastSeen returns the last time WasSeen was called, or the zero time if
// never.
func (r *DeviceReference) LastSeen() time.Time {
	raw, err := r.db.Get(r.key())
	if err != nil {
		return time.Time{}
	}
	var t time.Time
	if err := t.UnmarshalBinary(raw); err != nil {
		return time.Time{}
	}
	return t
}

// FolderCompletion is the summary of a folder's last completed scan or
// pull pass.
type FolderCompletion struct {
	At           time.Time
	NeedBytes    int64
	NeedItems    int64
	GlobalBytes  int64
	GlobalItems  int64
}

// CompletionPercent reports how close the folder is to fully synced, in
// the 0-100 range, treating an empty folder as 100% complete.
func (c FolderCompletion) CompletionPercent() float64 {
	if c.GlobalBytes == 0 {
		return 100
	}
	have := c.GlobalBytes - c.NeedBytes
	if have < 0 {
		have = 0
	}
	return 100 * float64(have) / float64(c.GlobalBytes)
}

// FolderReference reads and writes one folder's completion summary.
type FolderReference struct {
	db     storage.Store
	folder string
}

func NewFolderReference(db storage.Store, folder string) *FolderReference {
	return &FolderReference{db: db, folder: folder}
}

func (r *FolderReference) key() []byte {
	k := make([]byte, 1+len(r.folder))
	k[0] = keyTypeFolderCompletion
	copy(k[1:], r.folder)
	return k
}

// SetCompletion persists c as the folder's latest completion summary.
func (r *FolderReference) SetCompletion(c FolderCompletion) error {
	var buf bytes.Buffer
	at, err := c.At.MarshalBinary()
	if err != nil {
		return err
	}
	binary.Write(&buf, binary.BigEndian, int64(len(at)))
	buf.Write(at)
	binary.Write(&buf, binary.BigEndian, c.NeedBytes)
	binary.Write(&buf, binary.BigEndian, c.NeedItems)
	binary.Write(&buf, binary.BigEndian, c.GlobalBytes)
	binary.Write(&buf, binary.BigEndian, c.GlobalItems)

	b := r.db.NewBatch()
	b.Put(r.key(), buf.Bytes())
	return r.db.Write(b)
}

// Completion returns the folder's last persisted completion summary, or
// the zero value if none has been recorded yet.
func (r *FolderReference) Completion() (FolderCompletion, error) {
	raw, err := r.db.Get(r.key())
	if err == storage.ErrNotFound {
		return FolderCompletion{}, nil
	}
	if err != nil {
		return FolderCompletion{}, err
	}

	buf := bytes.NewReader(raw)
	var atLen int64
	if err := binary.Read(buf, binary.BigEndian, &atLen); err != nil {
		return FolderCompletion{}, err
	}
	atBytes := make([]byte, atLen)
	if _, err := buf.Read(atBytes); err != nil {
		return FolderCompletion{}, err
	}

	var c FolderCompletion
	if err := c.At.UnmarshalBinary(atBytes); err != nil {
		return FolderCompletion{}, err
	}
	binary.Read(buf, binary.BigEndian, &c.NeedBytes)
	binary.Read(buf, binary.BigEndian, &c.NeedItems)
	binary.Read(buf, binary.BigEndian, &c.GlobalBytes)
	binary.Read(buf, binary.BigEndian, &c.GlobalItems)
	return c, nil
}

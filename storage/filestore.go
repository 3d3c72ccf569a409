// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package storage

import (
	"bytes"
	"sort"

	"github.com/calmh/xdr"
	"github.com/syncspirit/syncspirit/protocol"
)

// FileStore is the node/global file table built on top of a Store: for
// each folder it tracks, per device, the FileInfos that device claims to
// have (the "node" table), and, per name, which device(s) hold the
// causally newest version (the "global" table) that WithNeed compares
// against to decide what a device is missing.
type FileStore struct {
	db Store
}

func NewFileStore(db Store) *FileStore {
	return &FileStore{db: db}
}

type fileList []protocol.FileInfo

func (l fileList) Len() int           { return len(l) }
func (l fileList) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }
func (l fileList) Less(i, j int) bool { return l[i].Name < l[j].Name }

// Replace overwrites the entire set of files a device claims for folder,
// mirroring a freshly received Index message (§4.1): entries missing from
// fs are deleted, changed entries are overwritten, and the global table is
// kept consistent with both.
func (s *FileStore) Replace(folder, device string, fs []protocol.FileInfo) error {
	sort.Sort(fileList(fs))

	start, limit := nodeKeyRange(folder, device)
	snapReader, release, err := s.db.Snapshot()
	if err != nil {
		return err
	}
	defer release()

	it := snapReader.NewIterator(start, limit)
	defer it.Release()

	batch := s.db.NewBatch()

	moreDB := it.Next()
	fsi := 0

	for moreDB || fsi < len(fs) {
		var newName, oldName []byte
		if fsi < len(fs) {
			newName = []byte(fs[fsi].Name)
		}
		if moreDB {
			oldName = nodeKeyName(it.Key())
		}

		cmp := bytes.Compare(newName, oldName)

		switch {
		case fsi < len(fs) && (!moreDB || cmp < 0):
			s.putNode(batch, folder, device, fs[fsi])
			s.updateGlobal(snapReader, batch, folder, device, fs[fsi])
			fsi++

		case fsi < len(fs) && moreDB && cmp == 0:
			s.putNode(batch, folder, device, fs[fsi])
			s.updateGlobal(snapReader, batch, folder, device, fs[fsi])
			fsi++
			moreDB = it.Next()

		case moreDB && (fsi >= len(fs) || cmp > 0):
			s.removeFromGlobal(snapReader, batch, folder, device, oldName)
			batch.Delete(nodeKey(folder, device, oldName))
			moreDB = it.Next()
		}
	}

	return s.db.Write(batch)
}

// Update upserts fs into device's node table without deleting anything
// absent from fs, mirroring an IndexUpdate (§4.1).
func (s *FileStore) Update(folder, device string, fs []protocol.FileInfo) error {
	snapReader, release, err := s.db.Snapshot()
	if err != nil {
		return err
	}
	defer release()

	batch := s.db.NewBatch()
	for _, f := range fs {
		s.putNode(batch, folder, device, f)
		s.updateGlobal(snapReader, batch, folder, device, f)
	}
	return s.db.Write(batch)
}

func (s *FileStore) putNode(b Batch, folder, device string, f protocol.FileInfo) {
	var buf bytes.Buffer
	f.EncodeXDR(&buf)
	b.Put(nodeKey(folder, device, []byte(f.Name)), buf.Bytes())
}

// deviceVersion is one device's contribution to a name's version list.
// ModifiedS rides along so the winner can apply §4.4's full concurrent
// tiebreak cascade (modification time, then max counter, then originator)
// without a separate round-trip through the node table for every
// candidate.
type deviceVersion struct {
	Device    string
	Version   protocol.Vector
	ModifiedS int64
}

type versionList struct {
	Versions []deviceVersion
}

func (s *FileStore) updateGlobal(r Reader, b Batch, folder, device string, f protocol.FileInfo) {
	gk := globalKey(folder, []byte(f.Name))
	vl := s.readVersionList(r, gk)

	for i := range vl.Versions {
		if vl.Versions[i].Device == device {
			vl.Versions = append(vl.Versions[:i], vl.Versions[i+1:]...)
			break
		}
	}
	vl.Versions = append(vl.Versions, deviceVersion{Device: device, Version: f.Version, ModifiedS: f.ModifiedS})

	b.Put(gk, encodeVersionList(vl))
}

func (s *FileStore) removeFromGlobal(r Reader, b Batch, folder, device string, name []byte) {
	gk := globalKey(folder, name)
	vl := s.readVersionList(r, gk)

	for i := range vl.Versions {
		if vl.Versions[i].Device == device {
			vl.Versions = append(vl.Versions[:i], vl.Versions[i+1:]...)
			break
		}
	}

	if len(vl.Versions) == 0 {
		b.Delete(gk)
		return
	}
	b.Put(gk, encodeVersionList(vl))
}

func (s *FileStore) readVersionList(r Reader, key []byte) versionList {
	raw, err := r.Get(key)
	if err != nil {
		return versionList{}
	}
	return decodeVersionList(raw)
}

// winner picks the causally newest entry in vl, applying the full §4.4
// concurrent tiebreak cascade (higher ModifiedS, then higher
// Version.MaxCounter, then lexicographically greater originator short ID)
// between entries that are causally concurrent with the current best —
// the same cascade versioner.Decide applies when the puller itself has to
// choose between a local and remote FileInfo.
func (vl versionList) winner() (deviceVersion, bool) {
	if len(vl.Versions) == 0 {
		return deviceVersion{}, false
	}
	best := vl.Versions[0]
	for _, dv := range vl.Versions[1:] {
		if isBetter(dv, best) {
			best = dv
		}
	}
	return best, true
}

// isBetter reports whether candidate should replace current as the
// winner: strictly newer outright, or tied/concurrent but ahead on the
// cascade's tiebreak fields.
func isBetter(candidate, current deviceVersion) bool {
	switch candidate.Version.Compare(current.Version) {
	case protocol.Greater:
		return true
	case protocol.Equal, protocol.Lesser:
		return false
	default:
		if candidate.ModifiedS != current.ModifiedS {
			return candidate.ModifiedS > current.ModifiedS
		}
		if cm, bm := candidate.Version.MaxCounter(), current.Version.MaxCounter(); cm != bm {
			return cm > bm
		}
		return candidate.Version.MaxCounterOriginator() > current.Version.MaxCounterOriginator()
	}
}

// Get returns the FileInfo device claims to have for name in folder.
func (s *FileStore) Get(folder, device, name string) (protocol.FileInfo, bool, error) {
	raw, err := s.db.Get(nodeKey(folder, device, []byte(name)))
	if err == ErrNotFound {
		return protocol.FileInfo{}, false, nil
	}
	if err != nil {
		return protocol.FileInfo{}, false, err
	}
	var f protocol.FileInfo
	if err := f.DecodeXDR(bytes.NewReader(raw)); err != nil {
		return protocol.FileInfo{}, false, err
	}
	return f, true, nil
}

// GetGlobal returns the causally newest known FileInfo for name in folder,
// across every device that has announced it.
func (s *FileStore) GetGlobal(folder, name string) (protocol.FileInfo, bool, error) {
	raw, err := s.db.Get(globalKey(folder, []byte(name)))
	if err == ErrNotFound {
		return protocol.FileInfo{}, false, nil
	}
	if err != nil {
		return protocol.FileInfo{}, false, err
	}
	vl := decodeVersionList(raw)
	best, ok := vl.winner()
	if !ok {
		return protocol.FileInfo{}, false, nil
	}
	return s.Get(folder, best.Device, name)
}

// WithHave iterates every FileInfo a device claims for folder, in name
// order, stopping early if fn returns false.
func (s *FileStore) WithHave(folder, device string, fn func(protocol.FileInfo) bool) error {
	start, limit := nodeKeyRange(folder, device)
	it := s.db.NewIterator(start, limit)
	defer it.Release()

	for it.Next() {
		var f protocol.FileInfo
		if err := f.DecodeXDR(bytes.NewReader(it.Value())); err != nil {
			return err
		}
		if !fn(f) {
			break
		}
	}
	return it.Error()
}

// WithGlobal iterates the causally newest FileInfo for every name known in
// folder, in name order.
func (s *FileStore) WithGlobal(folder string, fn func(protocol.FileInfo) bool) error {
	start, limit := globalKeyRange(folder)
	it := s.db.NewIterator(start, limit)
	defer it.Release()

	for it.Next() {
		vl := decodeVersionList(it.Value())
		best, ok := vl.winner()
		if !ok {
			continue
		}
		name := string(globalKeyName(it.Key()))
		f, ok, err := s.Get(folder, best.Device, name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if !fn(f) {
			break
		}
	}
	return it.Error()
}

// WithNeed iterates every global FileInfo that device lacks, holds a
// causal ancestor of, or holds a concurrent version of, i.e. everything
// the puller (§4.1) should
// consider requesting from some other device.
func (s *FileStore) WithNeed(folder, device string, fn func(protocol.FileInfo) bool) error {
	return s.WithGlobal(folder, func(global protocol.FileInfo) bool {
		have, ok, err := s.Get(folder, device, global.Name)
		if err != nil {
			return true
		}
		if !ok {
			return fn(global)
		}
		switch have.Version.Compare(global.Version) {
		case protocol.Equal:
			return true
		case protocol.Greater:
			return true
		default:
			// have is a strict ancestor of global, or the two are
			// concurrent (a conflict the puller must fetch to resolve).
			return fn(global)
		}
	})
}

// Availability returns every device short ID that currently holds the
// causally newest version of name in folder.
func (s *FileStore) Availability(folder, name string) ([]string, error) {
	raw, err := s.db.Get(globalKey(folder, []byte(name)))
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	vl := decodeVersionList(raw)
	best, ok := vl.winner()
	if !ok {
		return nil, nil
	}
	var devices []string
	for _, dv := range vl.Versions {
		if dv.Version.Compare(best.Version) == protocol.Equal {
			devices = append(devices, dv.Device)
		}
	}
	return devices, nil
}

// ListFolders returns every folder ID with at least one global entry.
func (s *FileStore) ListFolders() ([]string, error) {
	start := []byte{byte(keyTypeGlobal)}
	limit := []byte{byte(keyTypeGlobal) + 1}
	it := s.db.NewIterator(start, limit)
	defer it.Release()

	seen := make(map[string]bool)
	for it.Next() {
		folder := folderFromGlobalKey(it.Key())
		seen[folder] = true
	}
	folders := make([]string, 0, len(seen))
	for f := range seen {
		folders = append(folders, f)
	}
	sort.Strings(folders)
	return folders, it.Error()
}

func folderFromGlobalKey(k []byte) string {
	field := k[1 : 1+folderFieldWidth]
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}

// DropFolder removes every node and global entry belonging to folder.
func (s *FileStore) DropFolder(folder string) error {
	batch := s.db.NewBatch()

	nstart, nlimit := nodeKeyFolderRange(folder)
	it := s.db.NewIterator(nstart, nlimit)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()

	gstart, glimit := globalKeyRange(folder)
	git := s.db.NewIterator(gstart, glimit)
	for git.Next() {
		batch.Delete(append([]byte(nil), git.Key()...))
	}
	git.Release()

	return s.db.Write(batch)
}

// encodeVersionList and decodeVersionList give the global table's version
// list the same hand-written XDR treatment as the wire messages, keyed off
// the Vector type's exported Counter fields rather than its private XDR
// methods (which belong to the protocol package, not this one).
func encodeVersionList(vl versionList) []byte {
	var buf bytes.Buffer
	xw := xdr.NewWriter(&buf)
	xw.WriteUint32(uint32(len(vl.Versions)))
	for _, dv := range vl.Versions {
		xw.WriteString(dv.Device)
		xw.WriteUint64(uint64(dv.ModifiedS))
		xw.WriteUint32(uint32(len(dv.Version)))
		for _, c := range dv.Version {
			xw.WriteString(c.ID)
			xw.WriteUint64(c.Value)
		}
	}
	return buf.Bytes()
}

func decodeVersionList(raw []byte) versionList {
	xr := xdr.NewReader(bytes.NewReader(raw))
	n := int(xr.ReadUint32())
	vl := versionList{Versions: make([]deviceVersion, n)}
	for i := 0; i < n; i++ {
		device := xr.ReadString()
		modS := int64(xr.ReadUint64())
		vn := int(xr.ReadUint32())
		v := make(protocol.Vector, vn)
		for j := 0; j < vn; j++ {
			v[j].ID = xr.ReadString()
			v[j].Value = xr.ReadUint64()
		}
		vl.Versions[i] = deviceVersion{Device: device, Version: v, ModifiedS: modS}
	}
	return vl
}

// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package storage

import (
	"github.com/syncspirit/syncspirit/diffs"
	"github.com/syncspirit/syncspirit/protocol"
)

// ScanForCorruption walks device's claimed FileInfos in folder and returns
// a diffs.RemoveCorruptedFiles diff naming every entry that violates
// invariant 4 (§3: block count and per-block size are derived strictly
// from Size and BlockSize). Such an entry decoded successfully from
// storage but describes content no correct peer could have produced, so
// it must be dropped before the folder's puller or any ClusterConfig
// exchange ever sees it (§6's load-at-startup reconciliation). Directories,
// symlinks and deleted entries carry no blocks and are never flagged. A
// nil diff means nothing was corrupted.
func (s *FileStore) ScanForCorruption(folder, device string) (*diffs.RemoveCorruptedFiles, error) {
	var names []string
	err := s.WithHave(folder, device, func(f protocol.FileInfo) bool {
		if f.IsDirectory() || f.IsSymlink() || f.Deleted {
			return true
		}
		want := protocol.NumBlocks(f.Size, f.BlockSize)
		if len(f.Blocks) != want {
			names = append(names, f.Name)
			return true
		}
		for i, b := range f.Blocks {
			if b.Size != protocol.BlockSizeFor(f.Size, f.BlockSize, i, want) {
				names = append(names, f.Name)
				break
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	return &diffs.RemoveCorruptedFiles{Folder: folder, Names: names}, nil
}

// CorruptionScanner applies a RemoveCorruptedFiles diff by deleting the
// named entries from Device's node table and from the global table
// wherever Device was a contributor, the startup counterpart to
// Replace/Update's ordinary node/global bookkeeping.
type CorruptionScanner struct {
	diffs.BaseVisitor
	Store  *FileStore
	Device string
}

func (cs *CorruptionScanner) VisitRemoveCorruptedFiles(d *diffs.RemoveCorruptedFiles) error {
	snap, release, err := cs.Store.db.Snapshot()
	if err != nil {
		return err
	}
	defer release()

	batch := cs.Store.db.NewBatch()
	for _, name := range d.Names {
		cs.Store.removeFromGlobal(snap, batch, d.Folder, cs.Device, []byte(name))
		batch.Delete(nodeKey(d.Folder, cs.Device, []byte(name)))
	}
	return cs.Store.db.Write(batch)
}

// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package storage defines the on-disk key-value storage engine contract
// (§6) and a goleveldb-backed implementation of it, plus the folder/file
// bookkeeping built on top: the node and global file tables, and the
// per-folder "need" computation the controller's puller consumes.
package storage

import "github.com/syndtr/goleveldb/leveldb/iterator"

// Reader is the read half of the storage contract: a point lookup plus a
// range-scanning iterator, both snapshot-consistent with one another when
// obtained from the same Store.
type Reader interface {
	Get(key []byte) ([]byte, error)
	NewIterator(start, limit []byte) iterator.Iterator
}

// Batch accumulates writes to be applied atomically.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
}

// Store is the external storage engine contract (§6): any key-value store
// offering snapshot reads and atomic batched writes can back the
// synchronization core. The concrete adapter in this package targets
// goleveldb; the interface itself names no implementation.
type Store interface {
	Reader
	NewBatch() Batch
	Write(b Batch) error
	Snapshot() (Reader, func(), error)
	Close() error
}

// ErrNotFound is returned by Get when the key is absent, independent of
// which concrete engine is backing the Store.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "storage: key not found" }

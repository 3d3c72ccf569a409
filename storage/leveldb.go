// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package storage

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// levelDBStore is the concrete goleveldb adapter for the Store contract.
type levelDBStore struct {
	db *leveldb.DB
}

// OpenLevelDB opens (creating if necessary) a goleveldb database at path.
func OpenLevelDB(path string) (Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		OpenFilesCacheCapacity: 100,
		WriteBuffer:            4 << 20,
	})
	if errors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, err
	}
	return &levelDBStore{db: db}, nil
}

// OpenLevelDBMemory opens an in-memory database, used by tests and by
// callers that only need a transient index (e.g. a read-only relay).
func OpenLevelDBMemory() (Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &levelDBStore{db: db}, nil
}

func (s *levelDBStore) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *levelDBStore) NewIterator(start, limit []byte) iterator.Iterator {
	return s.db.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
}

func (s *levelDBStore) NewBatch() Batch {
	return &levelDBBatch{b: new(leveldb.Batch)}
}

func (s *levelDBStore) Write(b Batch) error {
	lb, ok := b.(*levelDBBatch)
	if !ok {
		return errBatchMismatch
	}
	return s.db.Write(lb.b, nil)
}

func (s *levelDBStore) Snapshot() (Reader, func(), error) {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, nil, err
	}
	return &levelDBSnapshot{snap: snap}, snap.Release, nil
}

func (s *levelDBStore) Close() error {
	return s.db.Close()
}

type levelDBBatch struct {
	b *leveldb.Batch
}

func (b *levelDBBatch) Put(key, value []byte) { b.b.Put(key, value) }
func (b *levelDBBatch) Delete(key []byte)      { b.b.Delete(key) }

type levelDBSnapshot struct {
	snap *leveldb.Snapshot
}

func (s *levelDBSnapshot) Get(key []byte) ([]byte, error) {
	v, err := s.snap.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *levelDBSnapshot) NewIterator(start, limit []byte) iterator.Iterator {
	return s.snap.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
}

var errBatchMismatch = batchMismatchError{}

type batchMismatchError struct{}

func (batchMismatchError) Error() string {
	return "storage: batch was not created by this Store"
}

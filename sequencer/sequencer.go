// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package sequencer hands out monotonically increasing counters; the
// controller draws FileInfo.Sequence values from it (used by
// ClusterConfig's max_sequence bookkeeping, §4.1). BEP message IDs do not
// come from here: each protocol connection numbers its own messages.
package sequencer

import "sync/atomic"

// Sequencer produces strictly increasing int64 values starting above 0,
// safe for concurrent use by multiple goroutines (one per folder,
// typically, since sequences are meaningful only within a folder).
type Sequencer struct {
	next atomic.Int64
}

// New returns a Sequencer whose first Next() call yields start+1.
func New(start int64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next value in the sequence.
func (s *Sequencer) Next() int64 {
	return s.next.Add(1)
}

// Current returns the most recently issued value without advancing the
// sequence, or the start value given to New if Next has never been called.
func (s *Sequencer) Current() int64 {
	return s.next.Load()
}

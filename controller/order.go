// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package controller

import (
	"sort"

	"github.com/syncspirit/syncspirit/protocol"
)

// PullOrder selects how the puller prioritizes the set of files a folder
// currently needs. This is a closed enumeration rather than an arbitrary
// comparator so it round-trips through folder configuration.
type PullOrder int

const (
	PullOrderDefault PullOrder = iota
	PullOrderAlphabetic
	PullOrderSmallestFirst
	PullOrderLargestFirst
	PullOrderOldestFirst
	PullOrderNewestFirst
)

// Sort orders files in place according to order. PullOrderDefault leaves
// the slice in whatever order the caller built it in (typically directory
// scan / global table iteration order), since imposing alphabetic order
// there would cost a sort for the common case that doesn't need one.
func Sort(files []protocol.FileInfo, order PullOrder) {
	switch order {
	case PullOrderAlphabetic:
		sort.SliceStable(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	case PullOrderSmallestFirst:
		sort.SliceStable(files, func(i, j int) bool { return files[i].Size < files[j].Size })
	case PullOrderLargestFirst:
		sort.SliceStable(files, func(i, j int) bool { return files[i].Size > files[j].Size })
	case PullOrderOldestFirst:
		sort.SliceStable(files, func(i, j int) bool { return files[i].ModifiedS < files[j].ModifiedS })
	case PullOrderNewestFirst:
		sort.SliceStable(files, func(i, j int) bool { return files[i].ModifiedS > files[j].ModifiedS })
	}
}

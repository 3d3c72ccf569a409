// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package versioner implements the conflict decision engine (§4.4): given
// a locally held FileInfo and an incoming remote FileInfo for the same
// name, it decides whether the remote wins outright, the local file wins,
// or the two are concurrent and a conflict copy must be made, and it
// carries out the conflict-copy file naming and retention policy.
package versioner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/syncspirit/syncspirit/protocol"
)

// Decision enumerates the outcomes of comparing a local and remote
// FileInfo for the same name (§4.4's decision table). The two concurrent
// outcomes are split by winner, rather than collapsed into one "conflict"
// value, because the caller still has to know which side's content to
// keep as the final file. Only a winning remote side leads to a conflict
// copy (of the local content); a winning local side leads to no write.
type Decision int

const (
	// DecisionRemoteWins: the remote FileInfo strictly descends the local
	// one; adopt it and discard the local content.
	DecisionRemoteWins Decision = iota
	// DecisionLocalWins: the local FileInfo strictly descends the remote
	// one, or is identical; nothing to do.
	DecisionLocalWins
	// DecisionConflictRemoteWins: the two versions are causally concurrent
	// and the remote one is kept as the resulting file; archive the local
	// content under a conflict-copy name first.
	DecisionConflictRemoteWins
	// DecisionConflictLocalWins: the two versions are causally concurrent
	// and the local content is kept as the resulting file; the remote
	// content is not downloaded and no conflict copy of it is written.
	DecisionConflictLocalWins
)

func (d Decision) String() string {
	switch d {
	case DecisionRemoteWins:
		return "remote-wins"
	case DecisionLocalWins:
		return "local-wins"
	case DecisionConflictRemoteWins:
		return "conflict-remote-wins"
	case DecisionConflictLocalWins:
		return "conflict-local-wins"
	default:
		return "unknown"
	}
}

// Conflict reports whether d arose from two causally concurrent versions,
// regardless of which side it kept.
func (d Decision) Conflict() bool {
	return d == DecisionConflictRemoteWins || d == DecisionConflictLocalWins
}

// RemoteWins reports whether the remote FileInfo's content should become
// the resulting file's content.
func (d Decision) RemoteWins() bool {
	return d == DecisionRemoteWins || d == DecisionConflictRemoteWins
}

// Decide compares local against remote for the same name (§4.4).
// Vector.Compare gives the causal ordering directly for the non-concurrent
// cases. localDirty reports whether the local copy carries an edit that
// hasn't been scanned/advertised to peers yet: a dirty local file racing a
// concurrent remote edit always keeps the local content rather than
// silently discarding in-progress local work, so it always resolves to
// DecisionConflictLocalWins regardless of the tiebreak fields below.
//
// When neither side is dirty, concurrent versions are broken down in
// order: the higher ModifiedS wins; ties go to the higher Version.MaxCounter
// across either vector; further ties go to the lexicographically greater
// Version.MaxCounterOriginator.
func Decide(local, remote protocol.FileInfo, localDirty bool) Decision {
	switch local.Version.Compare(remote.Version) {
	case protocol.Lesser:
		return DecisionRemoteWins
	case protocol.Equal, protocol.Greater:
		return DecisionLocalWins
	default:
		if localDirty {
			return DecisionConflictLocalWins
		}
		if local.ModifiedS != remote.ModifiedS {
			if local.ModifiedS > remote.ModifiedS {
				return DecisionConflictLocalWins
			}
			return DecisionConflictRemoteWins
		}
		if lm, rm := local.Version.MaxCounter(), remote.Version.MaxCounter(); lm != rm {
			if lm > rm {
				return DecisionConflictLocalWins
			}
			return DecisionConflictRemoteWins
		}
		if local.Version.MaxCounterOriginator() > remote.Version.MaxCounterOriginator() {
			return DecisionConflictLocalWins
		}
		return DecisionConflictRemoteWins
	}
}

// ConflictName returns the conflict-copy file name for path, stamped with
// the current time and the short ID of the device whose edit is being
// preserved (§4.4): <stem>.sync-conflict-<YYYYMMDD>-<HHMMSS>-<short_id>.<ext>
func ConflictName(path string, at time.Time, originatorShortID string) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	stamp := at.UTC().Format("20060102-150405")
	return fmt.Sprintf("%s.sync-conflict-%s-%s%s", stem, stamp, originatorShortID, ext)
}

// IsConflictCopy reports whether name was produced by ConflictName.
func IsConflictCopy(name string) bool {
	return strings.Contains(filepath.Base(name), ".sync-conflict-")
}

// Versioner archives the current content of a path before it is
// overwritten, and applies a retention policy to prior archives. The file
// actor calls Archive only for a finish_file that carries a ConflictPath
// and finds an existing final file, in place of renaming that file to
// ConflictPath; non-conflicting overwrites are not archived.
type Versioner interface {
	Archive(filePath string) error
}

// Keeper is grounded on the reference tree's "Simple" versioner: it moves
// the previous file content into a per-folder ".syncspirit-versions"
// directory, suffixed with its modification time, and prunes older
// archives beyond Keep.
type Keeper struct {
	FolderPath string
	Keep       int
}

const versionsDirName = ".syncspirit-versions"

func (k Keeper) Archive(filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	versionsDir := filepath.Join(k.FolderPath, versionsDirName)
	if err := os.MkdirAll(versionsDir, 0o755); err != nil {
		return err
	}

	rel, err := filepath.Rel(k.FolderPath, filepath.Dir(filePath))
	if err != nil {
		return err
	}
	dir := filepath.Join(versionsDir, rel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	base := filepath.Base(filePath)
	archived := filepath.Join(dir, base+"~"+info.ModTime().UTC().Format("20060102-150405"))
	if err := os.Rename(filePath, archived); err != nil {
		return err
	}

	return k.prune(dir, base)
}

func (k Keeper) prune(dir, base string) error {
	if k.Keep <= 0 {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, base+"~*"))
	if err != nil {
		return nil
	}
	if len(matches) <= k.Keep {
		return nil
	}
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-k.Keep] {
		os.Remove(old)
	}
	return nil
}

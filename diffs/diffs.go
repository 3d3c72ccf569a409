// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package diffs is the single tagged enumeration over model state deltas
// (§9 design notes): one Kind per variant, a concrete struct per Kind
// carrying that variant's payload, and a Visitor interface dispatched
// through each diff's Visit method. This replaces the virtual-dispatch
// cluster_diff_t subclass hierarchy the reference design describes with
// Go's ordinary interface satisfaction plus embedding: a Visitor that only
// cares about one or two kinds embeds BaseVisitor and overrides just
// those methods, inheriting a no-op "visit_next" for the rest.
package diffs

import "github.com/syncspirit/syncspirit/protocol"

// Kind tags which variant a Diff is, for logging and metrics; dispatch
// itself always goes through Visit rather than a type switch on Kind.
type Kind int

const (
	KindAppendBlock Kind = iota
	KindCloneBlock
	KindFinishFile
	KindRemoteCopy
	KindBlockAck
	KindBlockRej
	KindDialRequest
	KindDiscoveryNotification
	KindPeerStateOffline
	KindRemoveCorruptedFiles
	KindLocalUpdate
)

func (k Kind) String() string {
	switch k {
	case KindAppendBlock:
		return "append_block"
	case KindCloneBlock:
		return "clone_block"
	case KindFinishFile:
		return "finish_file"
	case KindRemoteCopy:
		return "remote_copy"
	case KindBlockAck:
		return "block_ack"
	case KindBlockRej:
		return "block_rej"
	case KindDialRequest:
		return "dial_request"
	case KindDiscoveryNotification:
		return "discovery_notification"
	case KindPeerStateOffline:
		return "peer_state_offline"
	case KindRemoveCorruptedFiles:
		return "remove_corrupted_files"
	case KindLocalUpdate:
		return "local_update"
	default:
		return "unknown"
	}
}

// Diff is satisfied by every variant below. Visit dispatches to the
// matching Visitor method.
type Diff interface {
	Kind() Kind
	Visit(v Visitor) error
}

// Visitor is implemented by anything that consumes diffs: the controller,
// the file actor, the persistence layer. BaseVisitor gives every method a
// no-op default so a concrete visitor only needs to override what it
// handles.
type Visitor interface {
	VisitAppendBlock(*AppendBlock) error
	VisitCloneBlock(*CloneBlock) error
	VisitFinishFile(*FinishFile) error
	VisitRemoteCopy(*RemoteCopy) error
	VisitBlockAck(*BlockAck) error
	VisitBlockRej(*BlockRej) error
	VisitDialRequest(*DialRequest) error
	VisitDiscoveryNotification(*DiscoveryNotification) error
	VisitPeerStateOffline(*PeerStateOffline) error
	VisitRemoveCorruptedFiles(*RemoveCorruptedFiles) error
	VisitLocalUpdate(*LocalUpdate) error
}

// BaseVisitor is visit_next: every method returns nil, doing nothing.
// Embed it in a concrete Visitor and override only the methods that
// Visitor needs to act on.
type BaseVisitor struct{}

func (BaseVisitor) VisitAppendBlock(*AppendBlock) error                     { return nil }
func (BaseVisitor) VisitCloneBlock(*CloneBlock) error                       { return nil }
func (BaseVisitor) VisitFinishFile(*FinishFile) error                       { return nil }
func (BaseVisitor) VisitRemoteCopy(*RemoteCopy) error                       { return nil }
func (BaseVisitor) VisitBlockAck(*BlockAck) error                           { return nil }
func (BaseVisitor) VisitBlockRej(*BlockRej) error                          { return nil }
func (BaseVisitor) VisitDialRequest(*DialRequest) error                     { return nil }
func (BaseVisitor) VisitDiscoveryNotification(*DiscoveryNotification) error { return nil }
func (BaseVisitor) VisitPeerStateOffline(*PeerStateOffline) error           { return nil }
func (BaseVisitor) VisitRemoveCorruptedFiles(*RemoveCorruptedFiles) error   { return nil }
func (BaseVisitor) VisitLocalUpdate(*LocalUpdate) error                    { return nil }

// AppendBlock opens path.syncspirit-tmp (creating parents on first touch,
// sized to FileSize) and writes Data at Offset, reusing the file actor's
// cached handle for path (§4.2).
type AppendBlock struct {
	Folder   string
	Path     string
	Data     []byte
	Offset   int64
	FileSize int64
}

func (d *AppendBlock) Kind() Kind            { return KindAppendBlock }
func (d *AppendBlock) Visit(v Visitor) error { return v.VisitAppendBlock(d) }

// CloneBlock reads BlockSize bytes from Source[SourceOffset:] and writes
// them to Target.syncspirit-tmp[TargetOffset:]; Source and Target may
// name the same file (§4.2 intra-file dedup).
type CloneBlock struct {
	Folder       string
	Target       string
	TargetOffset int64
	TargetSize   int64
	Source       string
	SourceOffset int64
	BlockSize    uint32
}

func (d *CloneBlock) Kind() Kind            { return KindCloneBlock }
func (d *CloneBlock) Visit(v Visitor) error { return v.VisitCloneBlock(d) }

// FinishFile closes the temporary, verifies its size, and, when
// ConflictPath is set, first moves an existing final file aside (to
// ConflictPath, or into the file actor's archiver when it has one), then
// renames the temporary over Path and sets its mtime (§4.2, §4.4).
type FinishFile struct {
	Folder         string
	Path           string
	LocalPath      string
	FileSize       int64
	ModificationS  int64
	ConflictPath   string // empty unless a conflict copy is required
}

func (d *FinishFile) Kind() Kind            { return KindFinishFile }
func (d *FinishFile) Visit(v Visitor) error { return v.VisitFinishFile(d) }

// RemoteCopy materializes a file/directory/symlink with no block content,
// or removes Path if Deleted (§4.2). Type is a plain int holding a
// protocol.FileType value (file, directory, symlink in that order).
type RemoteCopy struct {
	Folder        string
	Path          string
	Type          int
	Size          int64
	Perms         uint32
	ModS          int64
	SymlinkTarget string
	Deleted       bool
}

func (d *RemoteCopy) Kind() Kind            { return KindRemoteCopy }
func (d *RemoteCopy) Visit(v Visitor) error { return v.VisitRemoteCopy(d) }

// BlockAck marks BlockIndex of Path locally available, refills the
// request pool by BlockSize bytes, and wakes the puller (§4.1).
type BlockAck struct {
	Folder     string
	Path       string
	BlockIndex int
	BlockSize  uint32
}

func (d *BlockAck) Kind() Kind            { return KindBlockAck }
func (d *BlockAck) Visit(v Visitor) error { return v.VisitBlockAck(d) }

// BlockRej marks Path unreachable as of Version: the block at BlockIndex
// failed hash validation, so the file can't be completed from the peer
// set currently advertising it. The request pool must still be refilled
// by BlockSize bytes even though the block was rejected (§4.1, §8); the
// puller skips the name again until a later Index/IndexUpdate advances
// its global version past Version, at which point it's worth retrying.
type BlockRej struct {
	Folder     string
	Path       string
	BlockIndex int
	BlockSize  uint32
	Version    protocol.Vector
}

func (d *BlockRej) Kind() Kind            { return KindBlockRej }
func (d *BlockRej) Visit(v Visitor) error { return v.VisitBlockRej(d) }

// DialRequest asks the dialer to attempt a connection to Device over URIs
// (§4.1's dialer/initiator design).
type DialRequest struct {
	Device string
	URIs   []string
}

func (d *DialRequest) Kind() Kind            { return KindDialRequest }
func (d *DialRequest) Visit(v Visitor) error { return v.VisitDialRequest(d) }

// DiscoveryNotification asks the discovery collaborators to resolve URIs
// for Device asynchronously, when no static URI is configured for it.
type DiscoveryNotification struct {
	Device string
}

func (d *DiscoveryNotification) Kind() Kind            { return KindDiscoveryNotification }
func (d *DiscoveryNotification) Visit(v Visitor) error { return v.VisitDiscoveryNotification(d) }

// PeerStateOffline announces Device has exhausted its dial attempts and
// is considered offline until the next discovery/redial cycle.
type PeerStateOffline struct {
	Device string
	Reason string
}

func (d *PeerStateOffline) Kind() Kind            { return KindPeerStateOffline }
func (d *PeerStateOffline) Visit(v Visitor) error { return v.VisitPeerStateOffline(d) }

// RemoveCorruptedFiles is emitted once at startup, before the cluster is
// exposed to peers, dropping any stored file record that decodes but
// whose block list disagrees with its Size and BlockSize (§6's
// load-at-startup reconciliation).
type RemoveCorruptedFiles struct {
	Folder string
	Names  []string
}

func (d *RemoveCorruptedFiles) Kind() Kind            { return KindRemoveCorruptedFiles }
func (d *RemoveCorruptedFiles) Visit(v Visitor) error { return v.VisitRemoveCorruptedFiles(d) }

// LocalUpdate wraps a locally produced FileInfo change (from a scan or
// from applying one of the above diffs) that must be persisted and
// forwarded to peers as an IndexUpdate (§4.1's on_model_update).
type LocalUpdate struct {
	Folder string
	Name   string
}

func (d *LocalUpdate) Kind() Kind            { return KindLocalUpdate }
func (d *LocalUpdate) Visit(v Visitor) error { return v.VisitLocalUpdate(d) }

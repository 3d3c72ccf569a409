// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package controller is the per-peer-set orchestrator (§4.1): it
// implements protocol.Model to receive ClusterConfig/Index/IndexUpdate/
// Request/Close callbacks from every connected peer session, persists
// what it learns through storage.FileStore, and runs one puller per
// folder that requests missing content, validates it through the hasher
// pool, and commits it through the file actor.
package controller

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/calmh/logger"

	"github.com/syncspirit/syncspirit/diffs"
	"github.com/syncspirit/syncspirit/fileactor"
	"github.com/syncspirit/syncspirit/hasher"
	"github.com/syncspirit/syncspirit/protocol"
	"github.com/syncspirit/syncspirit/sequencer"
	"github.com/syncspirit/syncspirit/storage"
	"github.com/syncspirit/syncspirit/versioner"
)

// Folder is the local configuration of one shared folder: where its
// content lives on disk, how its puller prioritizes work, and which
// peers (by short device ID) it's shared with.
type Folder struct {
	ID        string
	LocalPath string
	Order     PullOrder
	Devices   []string
}

// sharesWith reports whether short is one of the devices this folder is
// configured to be shared with.
func (f *Folder) sharesWith(short string) bool {
	for _, d := range f.Devices {
		if d == short {
			return true
		}
	}
	return false
}

// remoteFolderState is what a peer has told us, via ClusterConfig or the
// running tally kept across Index/IndexUpdate, about one folder: its own
// index generation and the highest sequence number it has sent us so far
// (§4.1).
type remoteFolderState struct {
	IndexID     uint64
	MaxSequence int64
}

// Controller is the synchronization core's central actor. One Controller
// serves every connected peer and every configured folder; peer sessions
// are actors in their own right (see the protocol package) that call back
// into the Controller through the Model interface.
type Controller struct {
	local protocol.DeviceID
	store *storage.FileStore
	actor *fileactor.Actor
	hash  *hasher.Pool
	seq   *sequencer.Sequencer

	// requests is the §5/§8 cluster-wide byte budget shared by every
	// in-flight block Request, independent of how many folders or peers
	// are active.
	requests *requestPool
	activity *deviceActivity

	mu          sync.Mutex
	folders     map[string]*Folder
	conns       map[string]protocol.Connection          // keyed by device short ID
	queues      map[string]*jobQueue                    // keyed by folder ID
	remote      map[string]map[string]remoteFolderState // folder -> device short -> state
	dirty       map[string]map[string]bool              // folder -> name -> locally modified, not yet advertised
	unreachable map[string]map[string]protocol.Vector   // folder -> name -> version that failed validation
	onlineHook  func(protocol.DeviceID)
}

// New builds a Controller. requestBudget bounds, in bytes, the sum of
// every block Request outstanding across all folders and peers at once.
func New(local protocol.DeviceID, store *storage.FileStore, actor *fileactor.Actor, hashWorkers int, requestBudget int64) *Controller {
	return &Controller{
		local:       local,
		store:       store,
		actor:       actor,
		hash:        hasher.NewPool(hashWorkers, hashWorkers),
		seq:         sequencer.New(0),
		requests:    newRequestPool(requestBudget),
		activity:    newDeviceActivity(),
		folders:     make(map[string]*Folder),
		conns:       make(map[string]protocol.Connection),
		queues:      make(map[string]*jobQueue),
		remote:      make(map[string]map[string]remoteFolderState),
		dirty:       make(map[string]map[string]bool),
		unreachable: make(map[string]map[string]protocol.Vector),
	}
}

// AddFolder registers a locally configured folder.
func (c *Controller) AddFolder(f Folder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.folders[f.ID] = &f
	c.queues[f.ID] = newJobQueue()
}

// AddConnection registers conn as the session for a newly connected
// peer and starts its reader/pinger loops.
func (c *Controller) AddConnection(id protocol.DeviceID, conn protocol.Connection) {
	c.mu.Lock()
	c.conns[id.Short()] = conn
	c.mu.Unlock()
	conn.Start()
}

// SetOnlineHook registers fn to run once a ClusterConfig exchange with a
// device completes. The dialer's own MarkOnline fires on the TLS
// handshake alone and can't see this far into the session, so the
// transition to model.StateOnline (§3, §4.3) is driven from here instead.
func (c *Controller) SetOnlineHook(fn func(protocol.DeviceID)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onlineHook = fn
}

// RemoveDevice forgets id: any open session is closed (a removed device
// is one of the fatal-termination scenarios in §4.1 — there is no reason
// to keep serving a peer that configuration no longer trusts), and its
// per-folder bookkeeping is dropped so a later re-add starts clean.
func (c *Controller) RemoveDevice(id protocol.DeviceID) {
	short := id.Short()

	c.mu.Lock()
	conn, ok := c.conns[short]
	delete(c.conns, short)
	for _, devs := range c.remote {
		delete(devs, short)
	}
	c.mu.Unlock()

	if ok {
		conn.Close(fmt.Errorf("device %s removed from configuration", short))
	}
}

// ClusterConfig implements protocol.Model's on_message(ClusterConfig)
// handler (§4.1, §9): folders the peer mentions that aren't locally known
// or shared with it are ignored outright ("merge: unknown folders
// ignored"); for every folder that is shared, the peer's own claimed
// (index_id, max_sequence) is recorded as the upper bound the puller's
// sequence check (checkSequenceProgress) validates future Index/
// IndexUpdate messages against, and if the peer's record of our own
// device shows it's behind our local sequence, a full Index is resent
// (known folders' (index_id, max_sequence) updated).
func (c *Controller) ClusterConfig(deviceID protocol.DeviceID, config protocol.ClusterConfigMessage) {
	short := deviceID.Short()

	for _, pf := range config.Folders {
		c.mu.Lock()
		f, known := c.folders[pf.ID]
		c.mu.Unlock()
		if !known || !f.sharesWith(short) {
			continue
		}

		var peerSelf, peerViewOfUs protocol.Device
		var haveSelf, haveUs bool
		for _, d := range pf.Devices {
			if len(d.ID) != len(protocol.DeviceID{}) {
				continue
			}
			id := protocol.DeviceIDFromBytes(d.ID)
			switch id {
			case deviceID:
				peerSelf, haveSelf = d, true
			case c.local:
				peerViewOfUs, haveUs = d, true
			}
		}

		if haveSelf {
			c.mu.Lock()
			devs, ok := c.remote[pf.ID]
			if !ok {
				devs = make(map[string]remoteFolderState)
				c.remote[pf.ID] = devs
			}
			devs[short] = remoteFolderState{IndexID: peerSelf.IndexID, MaxSequence: peerSelf.MaxSequence}
			c.mu.Unlock()
		}

		if haveUs && peerViewOfUs.MaxSequence < c.localMaxSequence(pf.ID) {
			c.resendIndex(deviceID, pf.ID)
		}
	}

	c.mu.Lock()
	hook := c.onlineHook
	c.mu.Unlock()
	if hook != nil {
		hook(deviceID)
	}
}

// localMaxSequence returns the highest Sequence among the local device's
// own FileInfos in folder.
func (c *Controller) localMaxSequence(folder string) int64 {
	var max int64
	c.store.WithHave(folder, c.local.Short(), func(f protocol.FileInfo) bool {
		if f.Sequence > max {
			max = f.Sequence
		}
		return true
	})
	return max
}

// resendIndex pushes a full Index of the local device's FileInfos for
// folder to deviceID, used when ClusterConfig reveals the peer is behind.
func (c *Controller) resendIndex(deviceID protocol.DeviceID, folder string) {
	c.mu.Lock()
	conn, ok := c.conns[deviceID.Short()]
	c.mu.Unlock()
	if !ok {
		return
	}

	var files []protocol.FileInfo
	c.store.WithHave(folder, c.local.Short(), func(f protocol.FileInfo) bool {
		files = append(files, f)
		return true
	})
	conn.Index(folder, files)
}

// folderShared reports whether folder is both locally configured and
// shared with the device identified by short.
func (c *Controller) folderShared(folder, short string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.folders[folder]
	return ok && f.sharesWith(short)
}

// checkSequenceProgress enforces §4.1's monotonic-sequence invariant:
// every FileInfo a device sends for a folder must carry a Sequence
// strictly greater than the highest one that device has previously sent
// for that folder. A regression means the peer's index is corrupt, stale,
// or has been tampered with — none of which the session can recover from.
func (c *Controller) checkSequenceProgress(folder, short string, files []protocol.FileInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	devs, ok := c.remote[folder]
	if !ok {
		devs = make(map[string]remoteFolderState)
		c.remote[folder] = devs
	}
	state := devs[short]

	baseline := state.MaxSequence
	max := baseline
	for _, f := range files {
		if f.Sequence <= baseline {
			return fmt.Errorf("folder %q: device %s sent non-increasing sequence %d (previous max %d)",
				folder, short, f.Sequence, baseline)
		}
		if f.Sequence > max {
			max = f.Sequence
		}
	}

	state.MaxSequence = max
	devs[short] = state
	return nil
}

// Index implements protocol.Model's on_message(Index) handler: replace
// the sending device's claimed file set for folder and wake that
// folder's puller, after validating the folder is actually shared with
// this peer and its sequence counters are still advancing (§4.1).
func (c *Controller) Index(deviceID protocol.DeviceID, folder string, files []protocol.FileInfo) {
	short := deviceID.Short()

	if !c.folderShared(folder, short) {
		c.fatal(deviceID, fmt.Errorf("folder %q not shared with %s", folder, short))
		return
	}
	if err := c.checkSequenceProgress(folder, short, files); err != nil {
		c.fatal(deviceID, err)
		return
	}

	if err := c.store.Replace(folder, short, files); err != nil {
		c.storageFatal(folder, "Replace", err)
		return
	}
	c.wake(folder)
}

// IndexUpdate implements protocol.Model's on_message(IndexUpdate)
// handler, under the same validation as Index.
func (c *Controller) IndexUpdate(deviceID protocol.DeviceID, folder string, files []protocol.FileInfo) {
	short := deviceID.Short()

	if !c.folderShared(folder, short) {
		c.fatal(deviceID, fmt.Errorf("folder %q not shared with %s", folder, short))
		return
	}
	if err := c.checkSequenceProgress(folder, short, files); err != nil {
		c.fatal(deviceID, err)
		return
	}

	if err := c.store.Update(folder, short, files); err != nil {
		c.storageFatal(folder, "Update", err)
		return
	}
	c.wake(folder)
}

// Request implements protocol.Model's on_message(Request) handler: serve
// size bytes at offset from folder's local copy of name.
func (c *Controller) Request(deviceID protocol.DeviceID, folder, name string, offset int64, size uint32, hash []byte) ([]byte, error) {
	c.mu.Lock()
	f, ok := c.folders[folder]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("folder %q not shared", folder)
	}
	return c.actor.RequestBlock(filepath.Join(f.LocalPath, name), offset, size)
}

// Close implements protocol.Model's session-teardown callback.
func (c *Controller) Close(deviceID protocol.DeviceID, err error) {
	c.mu.Lock()
	delete(c.conns, deviceID.Short())
	c.mu.Unlock()
}

// MarkDirty records that the local device has an in-progress, not yet
// scanned/advertised change to folder/name, so a concurrent remote edit
// racing it is resolved in the local copy's favor rather than clobbering
// work still in flight (§4.4).
func (c *Controller) MarkDirty(folder, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	names, ok := c.dirty[folder]
	if !ok {
		names = make(map[string]bool)
		c.dirty[folder] = names
	}
	names[name] = true
}

func (c *Controller) isDirty(folder, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty[folder][name]
}

func (c *Controller) clearDirty(folder, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.dirty[folder], name)
}

// markUnreachable records that name currently can't be completed at
// version: the content every available device advertised for it failed
// hash validation (§4.1, §7, §8's boundary scenario 4). wake skips a name
// marked this way until a later Index/IndexUpdate proves a newer version
// is available, at which point it's worth trying again.
func (c *Controller) markUnreachable(folder, name string, version protocol.Vector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	names, ok := c.unreachable[folder]
	if !ok {
		names = make(map[string]protocol.Vector)
		c.unreachable[folder] = names
	}
	names[name] = version.Copy()
}

func (c *Controller) clearUnreachable(folder, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.unreachable[folder], name)
}

// fatal ends the session with deviceID: a protocol-level violation (an
// unshared folder, a sequence regression, a removed device) is specific
// to that one peer, so only its connection is torn down (§4.1).
func (c *Controller) fatal(deviceID protocol.DeviceID, err error) {
	logger.DefaultLogger.Warnf("controller: terminating session with %s: %v", deviceID.Short(), err)

	c.mu.Lock()
	conn, ok := c.conns[deviceID.Short()]
	c.mu.Unlock()
	if ok {
		conn.Close(err)
	}
}

// storageFatal reports a local storage write failure for folder: unlike a
// single peer's protocol violation, a failed Replace/Update leaves the
// on-disk index in an unknown state that every peer session shares, so
// the whole process exits rather than risk continuing to serve a
// possibly-diverged index (§6).
func (c *Controller) storageFatal(folder, op string, err error) {
	logger.DefaultLogger.Fatalf("controller: folder %q: %s failed: %v", folder, op, err)
}

// wake pushes every name the local device currently needs in folder onto
// that folder's job queue and kicks off pull for the newly queued names,
// skipping any name still marked unreachable at its current version.
func (c *Controller) wake(folder string) {
	c.mu.Lock()
	f, ok := c.folders[folder]
	q, qok := c.queues[folder]
	unreachable := c.unreachable[folder]
	c.mu.Unlock()
	if !ok || !qok {
		return
	}

	var needed []protocol.FileInfo
	c.store.WithNeed(folder, c.local.Short(), func(fi protocol.FileInfo) bool {
		if badVersion, marked := unreachable[fi.Name]; marked && fi.Version.Compare(badVersion) != protocol.Greater {
			return true
		}
		needed = append(needed, fi)
		return true
	})
	Sort(needed, f.Order)

	for _, fi := range needed {
		q.Push(fi.Name)
	}

	for {
		name, ok := q.Pop()
		if !ok {
			return
		}
		go c.pull(folder, f, q, name)
	}
}

// pull fetches one needed file. It first decides, per §4.4's conflict
// cascade, whether the remote version actually wins against whatever the
// local device currently holds; if local wins outright, or wins the
// concurrent-edit tiebreak (including the dirty-local-always-wins rule),
// nothing is downloaded and the local copy is left untouched. Otherwise
// each block is fetched from the least busy device advertising it,
// validated through the hasher pool, and appended via the file actor.
func (c *Controller) pull(folder string, f *Folder, q *jobQueue, name string) {
	defer q.Done(name)

	global, ok, err := c.store.GetGlobal(folder, name)
	if err != nil || !ok {
		return
	}

	local := filepath.Join(f.LocalPath, name)

	conflictPath := ""
	have, haveOK, err := c.store.Get(folder, c.local.Short(), name)
	if err != nil {
		return
	}
	if haveOK {
		decision := versioner.Decide(have, global, c.isDirty(folder, name))
		if !decision.RemoteWins() {
			return
		}
		if decision.Conflict() {
			conflictPath = versioner.ConflictName(local, time.Now(), c.local.Short())
		}
	}

	if global.IsDirectory() || global.Deleted || global.IsSymlink() {
		rc := &diffs.RemoteCopy{
			Folder: folder, Path: local, Type: int(global.Type), Size: global.Size,
			Perms: global.Permissions, ModS: global.ModifiedS,
			SymlinkTarget: global.SymlinkTarget, Deleted: global.Deleted,
		}
		if err := c.actor.VisitRemoteCopy(rc); err != nil {
			return
		}
		c.commitLocalInfo(folder, global)
		c.clearDirty(folder, name)
		return
	}

	devices, err := c.store.Availability(folder, name)
	if err != nil || len(devices) == 0 {
		return
	}

	ctx := context.Background()
	for i, block := range global.Blocks {
		size := int64(block.Size)
		if err := c.requests.acquire(ctx, size); err != nil {
			return
		}
		ok := c.pullBlock(folder, name, local, global, i, block, devices)
		c.requests.release(size)
		if !ok {
			return
		}
	}

	if err := c.actor.VisitFinishFile(&diffs.FinishFile{
		Folder: folder, Path: local, LocalPath: local,
		FileSize: global.Size, ModificationS: global.ModifiedS, ConflictPath: conflictPath,
	}); err != nil {
		return
	}

	c.clearUnreachable(folder, name)
	c.clearDirty(folder, name)
	c.commitLocalInfo(folder, global)
}

// pullBlock requests one block of name from the least busy device in
// devices, validates it through the hasher pool, and appends it via the
// file actor. It reports whether the caller should continue pulling
// name's remaining blocks.
func (c *Controller) pullBlock(folder, name, local string, global protocol.FileInfo, index int, block protocol.BlockInfo, devices []string) bool {
	device := c.activity.leastBusy(devices)
	c.mu.Lock()
	conn, ok := c.conns[device]
	c.mu.Unlock()
	if !ok {
		return false
	}

	c.activity.using(device)
	data, err := conn.Request(folder, name, block.Offset, block.Size, block.Hash)
	c.activity.done(device)
	if err != nil {
		return false
	}

	valid, err := c.hash.Validate(context.Background(), folder, local, block.Offset, data, block.Hash)
	if err != nil {
		return false
	}
	if !valid {
		c.markUnreachable(folder, name, global.Version)
		c.actor.VisitBlockRej(&diffs.BlockRej{
			Folder: folder, Path: local, BlockIndex: index, BlockSize: block.Size, Version: global.Version,
		})
		return false
	}

	if err := c.actor.VisitAppendBlock(&diffs.AppendBlock{
		Folder: folder, Path: local, Data: data, Offset: block.Offset, FileSize: global.Size,
	}); err != nil {
		return false
	}
	return true
}

func (c *Controller) commitLocalInfo(folder string, info protocol.FileInfo) {
	info.Sequence = c.seq.Next()
	c.store.Replace(folder, c.local.Short(), []protocol.FileInfo{info})
}

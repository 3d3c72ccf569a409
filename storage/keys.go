// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package storage

import "bytes"

// Key layout: a one-byte type tag, a fixed-width folder ID field, and then
// a type-specific variable-width suffix. Fixed-width folder fields let a
// single iterator range cover "everything under this folder" without
// parsing variable-length fields out of the middle of a key.
const (
	keyTypeNode keyByte = iota
	keyTypeGlobal
	keyTypeFolderMeta
	keyTypeDeviceStats
)

type keyByte byte

const folderFieldWidth = 64
const deviceFieldWidth = 32

func truncPad(s []byte, width int) []byte {
	b := make([]byte, width)
	copy(b, s)
	return b
}

// nodeKey addresses one device's claimed FileInfo for one name within one
// folder: keyTypeNode | folder | device | name.
func nodeKey(folder, device string, name []byte) []byte {
	k := make([]byte, 1+folderFieldWidth+deviceFieldWidth+len(name))
	k[0] = byte(keyTypeNode)
	copy(k[1:], truncPad([]byte(folder), folderFieldWidth))
	copy(k[1+folderFieldWidth:], truncPad([]byte(device), deviceFieldWidth))
	copy(k[1+folderFieldWidth+deviceFieldWidth:], name)
	return k
}

func nodeKeyName(k []byte) []byte {
	return k[1+folderFieldWidth+deviceFieldWidth:]
}

func nodeKeyDevice(k []byte) string {
	field := k[1+folderFieldWidth : 1+folderFieldWidth+deviceFieldWidth]
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}

// nodeKeyRange returns the [start, limit) range covering every name a
// given device holds within a folder.
func nodeKeyRange(folder, device string) ([]byte, []byte) {
	start := nodeKey(folder, device, nil)
	limit := nodeKey(folder, device, bytes.Repeat([]byte{0xff}, 1024))
	return start, limit
}

// nodeKeyFolderRange returns the [start, limit) range covering every
// device's entries within a folder, used when dropping a folder entirely.
func nodeKeyFolderRange(folder string) ([]byte, []byte) {
	start := make([]byte, 1+folderFieldWidth)
	start[0] = byte(keyTypeNode)
	copy(start[1:], truncPad([]byte(folder), folderFieldWidth))

	limit := make([]byte, 1+folderFieldWidth+deviceFieldWidth+1024)
	limit[0] = byte(keyTypeNode)
	copy(limit[1:], truncPad([]byte(folder), folderFieldWidth))
	for i := 1 + folderFieldWidth; i < len(limit); i++ {
		limit[i] = 0xff
	}
	return start, limit
}

// globalKey addresses the version list for one name within one folder,
// independent of which device(s) hold it: keyTypeGlobal | folder | name.
func globalKey(folder string, name []byte) []byte {
	k := make([]byte, 1+folderFieldWidth+len(name))
	k[0] = byte(keyTypeGlobal)
	copy(k[1:], truncPad([]byte(folder), folderFieldWidth))
	copy(k[1+folderFieldWidth:], name)
	return k
}

func globalKeyName(k []byte) []byte {
	return k[1+folderFieldWidth:]
}

func globalKeyRange(folder string) ([]byte, []byte) {
	start := globalKey(folder, nil)
	limit := globalKey(folder, bytes.Repeat([]byte{0xff}, 1024))
	return start, limit
}

func folderMetaKey(folder string) []byte {
	k := make([]byte, 1+folderFieldWidth)
	k[0] = byte(keyTypeFolderMeta)
	copy(k[1:], truncPad([]byte(folder), folderFieldWidth))
	return k
}

func deviceStatsKey(device string) []byte {
	k := make([]byte, 1+deviceFieldWidth)
	k[0] = byte(keyTypeDeviceStats)
	copy(k[1:], truncPad([]byte(device), deviceFieldWidth))
	return k
}

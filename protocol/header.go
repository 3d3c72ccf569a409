// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package protocol

import "github.com/calmh/xdr"

// messageType tags which struct follows the header on the wire. BEP v1
// only: no other protocol version is understood (§1 Non-goals).
type messageType int

const (
	typeClusterConfig messageType = iota
	typeIndex
	typeIndexUpdate
	typeRequest
	typeResponse
	typePing
	typeClose
)

// header is the 4-byte framing word preceding every non-Hello message: a
// protocol version nibble, a 12-bit message ID (used to match Request and
// Response), an 8-bit message type, and a compression bit.
type header struct {
	version     int
	msgID       int
	msgType     messageType
	compression bool
}

func (h header) encodeXDR(xw *xdr.Writer) (int, error) {
	return xw.WriteUint32(encodeHeader(h))
}

func (h *header) decodeXDR(xr *xdr.Reader) error {
	*h = decodeHeader(xr.ReadUint32())
	return xr.Error()
}

func encodeHeader(h header) uint32 {
	var isComp uint32
	if h.compression {
		isComp = 1
	}
	return uint32(h.version&0xf)<<28 |
		uint32(h.msgID&0xfff)<<16 |
		uint32(h.msgType&0xff)<<8 |
		isComp
}

func decodeHeader(u uint32) header {
	return header{
		version:     int(u>>28) & 0xf,
		msgID:       int(u>>16) & 0xfff,
		msgType:     messageType(u>>8) & 0xff,
		compression: u&1 == 1,
	}
}

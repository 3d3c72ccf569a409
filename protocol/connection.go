// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/calmh/xdr"
	"github.com/pierrec/lz4/v4"
)

// Timing defaults for the peer session (§6). helloTimeout bounds the initial
// handshake; pingIdleTime is how long the connection sits quiet before a
// keepalive Ping is sent; pingTimeout bounds how long that Ping may take to
// answer before the connection is considered dead.
const (
	helloTimeout   = 2 * time.Second
	pingIdleTime   = 60 * time.Second
	pingTimeout    = 30 * time.Second
	receiveTimeout = 120 * time.Second

	// compressionCutoff is the smallest payload worth spending a lz4 pass
	// on; shorter messages are sent uncompressed regardless of the peer's
	// advertised preference.
	compressionCutoff = 128

	// defaultUploadConcurrency bounds how many incoming Requests this
	// process serves at once, across every peer session combined (§4.1,
	// §5's cluster-wide semaphore). A peer opening a new request finds the
	// pool exhausted and simply blocks its own reader loop until a slot
	// frees, which is the queueing backpressure the Request pool invariant
	// calls for rather than an unbounded goroutine per Request.
	defaultUploadConcurrency = 32
)

// uploadSlots is the process-wide Request budget described above; shared by
// every rawConnection since the limit is on local disk/CPU service
// capacity, not on any one peer.
var uploadSlots = make(chan struct{}, defaultUploadConcurrency)

// CompressionPreference mirrors the peer's advertised compression stance
// for a folder (§6): MetadataOnly compresses only Index/IndexUpdate/
// ClusterConfig, Always compresses every eligible message, Never disables
// it entirely.
type CompressionPreference int

const (
	CompressionMetadataOnly CompressionPreference = iota
	CompressionAlways
	CompressionNever
)

// Model is the controller-facing callback surface a Connection dispatches
// incoming BEP messages to; it corresponds to the on_message handlers of
// §4.1.
type Model interface {
	ClusterConfig(deviceID DeviceID, config ClusterConfigMessage)
	Index(deviceID DeviceID, folder string, files []FileInfo)
	IndexUpdate(deviceID DeviceID, folder string, files []FileInfo)
	Request(deviceID DeviceID, folder, name string, offset int64, size uint32, hash []byte) ([]byte, error)
	Close(deviceID DeviceID, err error)
}

// Connection is the peer-facing half of a single established session: it
// frames and dispatches BEP messages over an underlying transport (plain
// TCP, TLS, or a relayed stream — the caller decides) and correlates
// Request/Response and Ping/Pong pairs by message ID.
type Connection interface {
	Start()
	ID() DeviceID
	Index(folder string, files []FileInfo) error
	IndexUpdate(folder string, files []FileInfo) error
	Request(folder, name string, offset int64, size uint32, hash []byte) ([]byte, error)
	ClusterConfig(config ClusterConfigMessage)
	Ping() bool
	Close(err error)
	Closed() bool
	Statistics() Statistics
}

type asyncResult struct {
	val []byte
	err error
}

// Statistics reports cumulative byte counts for a session. The counts are
// held in memory only; nothing persists them.
type Statistics struct {
	At            time.Time
	InBytesTotal  int64
	OutBytesTotal int64
}

type rawConnection struct {
	sync.RWMutex

	id       DeviceID
	name     string
	receiver Model
	conn     net.Conn

	br *bufio.Reader
	bw *bufio.Writer

	compression CompressionPreference

	awaiting map[int32]chan asyncResult
	nextID   int32

	hasSentIndex  map[string]bool
	hasRecvdIndex map[string]bool

	inBytesTotal  int64
	outBytesTotal int64

	closed   chan struct{}
	closeErr error
	once     sync.Once
}

// NewConnection wraps an already-authenticated transport (the TLS
// handshake and device ID verification happen in the connections package,
// before this constructor is called) in a BEP session. Start must be
// called before any message is sent.
func NewConnection(id DeviceID, conn net.Conn, receiver Model, name string, compression CompressionPreference) Connection {
	return &rawConnection{
		id:            id,
		name:          name,
		receiver:      receiver,
		conn:          conn,
		br:            bufio.NewReader(conn),
		bw:            bufio.NewWriter(conn),
		compression:   compression,
		awaiting:      make(map[int32]chan asyncResult),
		hasSentIndex:  make(map[string]bool),
		hasRecvdIndex: make(map[string]bool),
		closed:        make(chan struct{}),
	}
}

func (c *rawConnection) ID() DeviceID { return c.id }

// Start launches the reader and keepalive-pinger loops. The caller is
// expected to have already exchanged Hello messages (or to skip that for
// relayed/test transports) before calling Start.
func (c *rawConnection) Start() {
	go c.readerLoop()
	go c.pingerLoop()
}

func (c *rawConnection) Index(folder string, files []FileInfo) error {
	c.Lock()
	defer c.Unlock()

	if c.hasSentIndex[folder] {
		_, err := c.writeMessageLocked(typeIndexUpdate, c.nextMsgID(), IndexUpdateMessage{Folder: folder, Files: files})
		return err
	}
	_, err := c.writeMessageLocked(typeIndex, c.nextMsgID(), IndexMessage{Folder: folder, Files: files})
	if err == nil {
		c.hasSentIndex[folder] = true
	}
	return err
}

func (c *rawConnection) IndexUpdate(folder string, files []FileInfo) error {
	c.Lock()
	defer c.Unlock()
	_, err := c.writeMessageLocked(typeIndexUpdate, c.nextMsgID(), IndexUpdateMessage{Folder: folder, Files: files})
	return err
}

func (c *rawConnection) ClusterConfig(config ClusterConfigMessage) {
	c.Lock()
	defer c.Unlock()
	c.writeMessageLocked(typeClusterConfig, c.nextMsgID(), config)
}

func (c *rawConnection) Request(folder, name string, offset int64, size uint32, hash []byte) ([]byte, error) {
	c.Lock()
	if c.isClosedLocked() {
		c.Unlock()
		return nil, fmt.Errorf("connection to %s closed", c.id.Short())
	}
	msgID := c.nextMsgID()
	rc := make(chan asyncResult, 1)
	c.awaiting[msgID] = rc
	_, err := c.writeMessageLocked(typeRequest, msgID, RequestMessage{
		ID: msgID, Folder: folder, Name: name, Offset: offset, Size: size, Hash: hash,
	})
	c.Unlock()

	if err != nil {
		c.Close(err)
		return nil, err
	}

	select {
	case res := <-rc:
		return res.val, res.err
	case <-time.After(receiveTimeout):
		c.Close(fmt.Errorf("request timeout for %q in %q", name, folder))
		return nil, fmt.Errorf("request timeout")
	case <-c.closed:
		return nil, fmt.Errorf("connection to %s closed", c.id.Short())
	}
}

func (c *rawConnection) Ping() bool {
	c.Lock()
	if c.isClosedLocked() {
		c.Unlock()
		return false
	}
	msgID := c.nextMsgID()
	rc := make(chan asyncResult, 1)
	c.awaiting[msgID] = rc
	_, err := c.writeMessageLocked(typePing, msgID, PingMessage{})
	c.Unlock()

	if err != nil {
		return false
	}

	select {
	case <-rc:
		return true
	case <-time.After(pingTimeout):
		return false
	case <-c.closed:
		return false
	}
}

func (c *rawConnection) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *rawConnection) isClosedLocked() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *rawConnection) Close(err error) {
	c.once.Do(func() {
		c.Lock()
		c.closeErr = err
		close(c.closed)
		for id, rc := range c.awaiting {
			close(rc)
			delete(c.awaiting, id)
		}
		c.Unlock()

		c.conn.Close()
		c.receiver.Close(c.id, err)
	})
}

func (c *rawConnection) Statistics() Statistics {
	c.RLock()
	defer c.RUnlock()
	return Statistics{
		At:            time.Now(),
		InBytesTotal:  c.inBytesTotal,
		OutBytesTotal: c.outBytesTotal,
	}
}

func (c *rawConnection) nextMsgID() int32 {
	c.nextID = (c.nextID + 1) & 0xfff
	return c.nextID
}

type xdrEncoder interface {
	EncodeXDR(w io.Writer) (int, error)
}

// writeMessageLocked marshals msg, optionally lz4-compresses it according
// to the negotiated CompressionPreference, and writes the framed
// [header][length][payload] onto the wire. Caller holds c.Lock().
func (c *rawConnection) writeMessageLocked(t messageType, msgID int32, msg xdrEncoder) (int, error) {
	var payload bytes.Buffer
	if _, err := msg.EncodeXDR(&payload); err != nil {
		return 0, err
	}

	raw := payload.Bytes()
	compress := c.shouldCompress(t, len(raw))
	body := raw
	if compress {
		compressed := make([]byte, lz4.CompressBlockBound(len(raw)))
		var lzc lz4.Compressor
		n, err := lzc.CompressBlock(raw, compressed)
		if err == nil && n > 0 && n < len(raw) {
			body = compressed[:n]
		} else {
			compress = false
		}
	}

	hdr := header{version: 0, msgID: int(msgID), msgType: t, compression: compress}

	var hdrBuf bytes.Buffer
	xw := xdr.NewWriter(&hdrBuf)
	hdr.encodeXDR(xw)
	if err := xw.Error(); err != nil {
		return 0, err
	}

	total := 0
	if n, err := c.bw.Write(hdrBuf.Bytes()); err != nil {
		return n, err
	} else {
		total += n
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if n, err := c.bw.Write(lenBuf[:]); err != nil {
		return total + n, err
	} else {
		total += n
	}

	n, err := c.bw.Write(body)
	total += n
	if err != nil {
		return total, err
	}

	if err := c.bw.Flush(); err != nil {
		return total, err
	}

	c.outBytesTotal += int64(total)
	return total, nil
}

func (c *rawConnection) shouldCompress(t messageType, size int) bool {
	if c.compression == CompressionNever || size < compressionCutoff {
		return false
	}
	if c.compression == CompressionAlways {
		return true
	}
	switch t {
	case typeIndex, typeIndexUpdate, typeClusterConfig:
		return true
	default:
		return false
	}
}

func (c *rawConnection) readHeader() (header, error) {
	var hdrBuf [4]byte
	if _, err := io.ReadFull(c.br, hdrBuf[:]); err != nil {
		return header{}, err
	}
	xr := xdr.NewReader(bytes.NewReader(hdrBuf[:]))
	var hdr header
	hdr.decodeXDR(xr)
	return hdr, xr.Error()
}

func (c *rawConnection) readPayload(hdr header) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.br, lenBuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, size)
	if _, err := io.ReadFull(c.br, body); err != nil {
		return nil, err
	}

	c.Lock()
	c.inBytesTotal += int64(4 + 4 + len(body))
	c.Unlock()

	if !hdr.compression {
		return body, nil
	}

	decompressed := make([]byte, 0, len(body)*3)
	buf := make([]byte, 64*1024)
	for {
		n, err := lz4.UncompressBlock(body, buf)
		if err == nil {
			decompressed = append(decompressed, buf[:n]...)
			break
		}
		if len(buf) > 64*1024*1024 {
			return nil, fmt.Errorf("decompressed payload too large")
		}
		buf = make([]byte, len(buf)*2)
	}
	return decompressed, nil
}

func (c *rawConnection) readerLoop() {
	for {
		hdr, err := c.readHeader()
		if err != nil {
			c.Close(err)
			return
		}
		if hdr.version != 0 {
			c.Close(fmt.Errorf("protocol error: unknown version %d from %s", hdr.version, c.id.Short()))
			return
		}

		switch hdr.msgType {
		case typeClusterConfig:
			body, err := c.readPayload(hdr)
			if err != nil {
				c.Close(err)
				return
			}
			var m ClusterConfigMessage
			if err := m.DecodeXDR(bytes.NewReader(body)); err != nil {
				c.Close(err)
				return
			}
			c.receiver.ClusterConfig(c.id, m)

		case typeIndex:
			body, err := c.readPayload(hdr)
			if err != nil {
				c.Close(err)
				return
			}
			var m IndexMessage
			if err := m.DecodeXDR(bytes.NewReader(body)); err != nil {
				c.Close(err)
				return
			}
			c.Lock()
			c.hasRecvdIndex[m.Folder] = true
			c.Unlock()
			c.receiver.Index(c.id, m.Folder, m.Files)

		case typeIndexUpdate:
			body, err := c.readPayload(hdr)
			if err != nil {
				c.Close(err)
				return
			}
			var m IndexUpdateMessage
			if err := m.DecodeXDR(bytes.NewReader(body)); err != nil {
				c.Close(err)
				return
			}
			c.receiver.IndexUpdate(c.id, m.Folder, m.Files)

		case typeRequest:
			body, err := c.readPayload(hdr)
			if err != nil {
				c.Close(err)
				return
			}
			var m RequestMessage
			if err := m.DecodeXDR(bytes.NewReader(body)); err != nil {
				c.Close(err)
				return
			}

			select {
			case uploadSlots <- struct{}{}:
			case <-c.closed:
				return
			}
			go c.processRequest(int32(hdr.msgID), m)

		case typeResponse:
			body, err := c.readPayload(hdr)
			if err != nil {
				c.Close(err)
				return
			}
			var m ResponseMessage
			if err := m.DecodeXDR(bytes.NewReader(body)); err != nil {
				c.Close(err)
				return
			}

			c.Lock()
			rc, ok := c.awaiting[int32(hdr.msgID)]
			delete(c.awaiting, int32(hdr.msgID))
			c.Unlock()

			if !ok {
				// A Response with no matching in-flight Request is a
				// protocol violation (§4.1): either a replayed/duplicated
				// message ID or a peer answering a Request it was never
				// sent. Neither is recoverable within the session.
				c.Close(fmt.Errorf("unsolicited response id %d from %s", hdr.msgID, c.id.Short()))
				return
			}

			var rerr error
			if m.Code != CodeNoError {
				rerr = fmt.Errorf("remote error: %s", m.Code)
			}
			rc <- asyncResult{val: m.Data, err: rerr}
			close(rc)

		case typePing:
			c.Lock()
			_, werr := c.writeMessageLocked(typePing, int32(hdr.msgID), PingMessage{})
			c.Unlock()
			if werr != nil {
				c.Close(werr)
				return
			}

		case typeClose:
			body, _ := c.readPayload(hdr)
			var m CloseMessage
			m.DecodeXDR(bytes.NewReader(body))
			c.Close(fmt.Errorf("peer closed: %s", m.Reason))
			return

		default:
			c.Close(fmt.Errorf("protocol error: %s: unknown message type %d", c.id.Short(), hdr.msgType))
			return
		}
	}
}

func (c *rawConnection) processRequest(msgID int32, req RequestMessage) {
	defer func() { <-uploadSlots }()

	data, err := c.receiver.Request(c.id, req.Folder, req.Name, req.Offset, req.Size, req.Hash)
	code := CodeNoError
	if err != nil {
		code = CodeGeneric
	}

	c.Lock()
	_, werr := c.writeMessageLocked(typeResponse, msgID, ResponseMessage{ID: msgID, Data: data, Code: code})
	c.Unlock()

	if werr != nil {
		c.Close(werr)
	}
}

func (c *rawConnection) pingerLoop() {
	ticker := time.NewTicker(pingIdleTime)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.RLock()
			closed := c.isClosedLocked()
			c.RUnlock()
			if closed {
				return
			}
			if !c.Ping() {
				c.Close(fmt.Errorf("ping failure"))
				return
			}
		case <-c.closed:
			return
		}
	}
}

// ExchangeHello writes a HelloMessage and reads the peer's, enforcing
// helloTimeout; it must be the very first exchange on a freshly dialed or
// accepted transport (§6).
func ExchangeHello(conn net.Conn, h HelloMessage) (HelloMessage, error) {
	conn.SetDeadline(time.Now().Add(helloTimeout))
	defer conn.SetDeadline(time.Time{})

	if _, err := h.EncodeXDR(conn); err != nil {
		return HelloMessage{}, err
	}

	var peer HelloMessage
	if err := peer.DecodeXDR(conn); err != nil {
		return HelloMessage{}, err
	}
	return peer, nil
}

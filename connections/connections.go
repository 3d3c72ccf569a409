// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package connections owns outbound connectivity to peers (§4.3): a
// Dialer that keeps one redial timer per device and re-arms it on the
// device going offline, and an Initiator that tries each known address
// in turn (direct TCP/TLS first, relay last), performs the BEP TLS
// handshake, and verifies the presented certificate hashes to the
// expected device ID.
package connections

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/syncspirit/syncspirit/diffs"
	"github.com/syncspirit/syncspirit/protocol"
)

// ErrUnknownDevice is returned when a dial attempt or accept hands back a
// certificate that doesn't hash to the device ID the caller expected.
var ErrUnknownDevice = errors.New("connections: certificate does not match expected device ID")

// ALPN is the protocol name negotiated during the TLS handshake, fixed by
// BEP v1 (§6).
const ALPN = "bep/1.0"

// relayScheme and tcpScheme distinguish how an address is dialed; a
// device may advertise several URIs and the Initiator tries them in a
// fixed preference order, direct before relayed.
const (
	tcpScheme   = "tcp"
	tlsScheme   = "tls"
	relayScheme = "relay"
)

func schemeOf(uri string) string {
	if i := strings.Index(uri, "://"); i >= 0 {
		return uri[:i]
	}
	return tcpScheme
}

func hostOf(uri string) string {
	if i := strings.Index(uri, "://"); i >= 0 {
		return uri[i+3:]
	}
	return uri
}

// SortURIs orders a device's advertised addresses direct-before-relay,
// stable within each group, so the Initiator spends its dial attempts on
// the cheaper transport first.
func SortURIs(uris []string) {
	rank := func(u string) int {
		if schemeOf(u) == relayScheme {
			return 1
		}
		return 0
	}
	sort.SliceStable(uris, func(i, j int) bool { return rank(uris[i]) < rank(uris[j]) })
}

// Initiator dials a device's advertised URIs in order, stopping at the
// first that completes a verified BEP TLS handshake.
type Initiator struct {
	cert tls.Certificate
}

func NewInitiator(cert tls.Certificate) *Initiator {
	return &Initiator{cert: cert}
}

// Dial tries every URI in order and returns the first live, verified
// net.Conn. Relay URIs are handed to dialRelay; everything else is dialed
// directly over TLS.
func (in *Initiator) Dial(expected protocol.DeviceID, uris []string, timeout time.Duration) (net.Conn, error) {
	SortURIs(uris)

	var lastErr error
	for _, uri := range uris {
		var conn net.Conn
		var err error
		if schemeOf(uri) == relayScheme {
			conn, err = in.dialRelay(expected, hostOf(uri), timeout)
		} else {
			conn, err = in.dialDirect(expected, hostOf(uri), timeout)
		}
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("connections: no URIs to dial")
	}
	return nil, lastErr
}

func (in *Initiator) dialDirect(expected protocol.DeviceID, addr string, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	raw, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	tlsConn := tls.Client(raw, &tls.Config{
		Certificates:       []tls.Certificate{in.cert},
		InsecureSkipVerify: true, // device identity is verified below, not via the CA chain
		NextProtos:         []string{ALPN},
		MinVersion:         tls.VersionTLS12,
	})
	tlsConn.SetDeadline(time.Now().Add(timeout))
	if err := tlsConn.Handshake(); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
	}
	tlsConn.SetDeadline(time.Time{})

	if err := verifyPeerCertificate(tlsConn, expected); err != nil {
		tlsConn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// dialRelay is the relay leg of Dial. It always returns an error: no
// relay protocol (join-session-request / session-invitation frames) is
// spoken and no connection to the relay is opened, so a relay URI never
// yields a connection. The hook sits in Dial's URI loop so a concrete
// relay client can be plugged in without touching the rest of the
// dial/verify pipeline.
func (in *Initiator) dialRelay(expected protocol.DeviceID, relayAddr string, timeout time.Duration) (net.Conn, error) {
	return nil, fmt.Errorf("connections: relay dial to %s via %s not available in this environment", expected.Short(), relayAddr)
}

func verifyPeerCertificate(conn *tls.Conn, expected protocol.DeviceID) error {
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return errors.New("connections: peer presented no certificate")
	}
	cert := state.PeerCertificates[0]
	if protocol.NewDeviceID(cert.Raw) != expected {
		return ErrUnknownDevice
	}
	return nil
}

// ParseCertificate is a small convenience used by callers building a
// tls.Certificate from PEM bytes, kept here so config loading doesn't
// need its own copy of the x509 parsing boilerplate.
func ParseCertificate(certPEM, keyPEM []byte) (tls.Certificate, protocol.DeviceID, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, protocol.DeviceID{}, err
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return tls.Certificate{}, protocol.DeviceID{}, err
	}
	return cert, protocol.NewDeviceID(leaf.Raw), nil
}

// DialRequestFor builds the diffs.DialRequest a Dialer enqueues when a
// device's redial timer fires.
func DialRequestFor(device protocol.DeviceID, uris []string) *diffs.DialRequest {
	return &diffs.DialRequest{Device: device.Short(), URIs: uris}
}

// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package protocol

import (
	"bytes"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DeviceID is the checksummed, human-readable identity of a device, derived
// from the SHA-256 hash of its certificate's raw public bytes (§3).
type DeviceID [32]byte

// LocalDeviceID is the distinguished identity used to address the local
// device's own entries in per-device maps (FolderInfo ownership, etc).
var LocalDeviceID = DeviceID{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

// NewDeviceID derives a device ID from the raw bytes of a self-signed
// certificate (its DER encoding, or its public key — either is hashed the
// same way since both are stable per-certificate byte strings).
func NewDeviceID(rawCert []byte) DeviceID {
	return DeviceID(sha256.Sum256(rawCert))
}

// DeviceIDFromBytes wraps a raw 32-byte hash as a DeviceID. It panics on
// incorrect length since callers always have a fixed-size hash in hand.
func DeviceIDFromBytes(bs []byte) DeviceID {
	var n DeviceID
	if len(bs) != len(n) {
		panic("incorrect length of byte slice representing device ID")
	}
	copy(n[:], bs)
	return n
}

// DeviceIDFromString parses the canonical chunked-and-checksummed string
// representation of a device ID.
func DeviceIDFromString(s string) (DeviceID, error) {
	var n DeviceID
	err := n.UnmarshalText([]byte(s))
	return n, err
}

// String returns the canonical string representation: base32, Luhn
// check-digited in four 13-character groups, then dashed into 7-character
// chunks for readability.
func (n DeviceID) String() string {
	id := base32.StdEncoding.EncodeToString(n[:])
	id = strings.TrimRight(id, "=")
	id, err := luhnify(id)
	if err != nil {
		// The alphabet and lengths here are fixed at compile time; this
		// cannot fail in practice.
		panic(err)
	}
	return chunkify(id)
}

func (n DeviceID) GoString() string {
	return n.String()
}

// Compare provides a total order over device IDs, used by the conflict
// engine's originator tiebreak (§4.4) and for stable iteration order.
func (n DeviceID) Compare(other DeviceID) int {
	return bytes.Compare(n[:], other[:])
}

func (n DeviceID) Equals(other DeviceID) bool {
	return n == other
}

// Short returns the 7-character prefix used as the originator short ID in
// version vectors (§3) and conflict-copy file names (§4.4).
func (n DeviceID) Short() string {
	s := n.String()
	return s[:7]
}

func (n *DeviceID) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

func (n *DeviceID) UnmarshalText(bs []byte) error {
	id := string(bs)
	id = strings.TrimRight(id, "=")
	id = strings.ToUpper(id)
	id = deTypo(id)
	id = unchunkify(id)

	switch len(id) {
	case 56:
		// Chunked with check digits.
		unluhned, err := unluhnify(id)
		if err != nil {
			return err
		}
		id = unluhned
		fallthrough
	case 52:
		dec, err := base32.StdEncoding.DecodeString(id + "====")
		if err != nil {
			return err
		}
		copy(n[:], dec)
		return nil
	default:
		return errors.New("device ID invalid: incorrect length")
	}
}

func luhnify(s string) (string, error) {
	if len(s) != 52 {
		panic("unsupported string length")
	}

	res := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		p := s[i*13 : (i+1)*13]
		c, err := base32Luhn.generate(p)
		if err != nil {
			return "", err
		}
		res = append(res, fmt.Sprintf("%s%c", p, c))
	}
	return res[0] + res[1] + res[2] + res[3], nil
}

func unluhnify(s string) (string, error) {
	if len(s) != 56 {
		return "", fmt.Errorf("unsupported string length %d", len(s))
	}

	res := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		p := s[i*14 : (i+1)*14-1]
		c, err := base32Luhn.generate(p)
		if err != nil {
			return "", err
		}
		if g := fmt.Sprintf("%s%c", p, c); g != s[i*14:(i+1)*14] {
			return "", errors.New("check digit incorrect")
		}
		res = append(res, p)
	}
	return res[0] + res[1] + res[2] + res[3], nil
}

var chunkRe = regexp.MustCompile("(.{7})")

func chunkify(s string) string {
	s = chunkRe.ReplaceAllString(s, "$1-")
	return strings.Trim(s, "-")
}

func unchunkify(s string) string {
	s = strings.ReplaceAll(s, "-", "")
	return strings.ReplaceAll(s, " ", "")
}

func deTypo(s string) string {
	s = strings.ReplaceAll(s, "0", "O")
	s = strings.ReplaceAll(s, "1", "I")
	s = strings.ReplaceAll(s, "8", "B")
	return s
}

// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package protocol

import (
	"bytes"
	"strings"
	"testing"
)

func TestDeviceIDRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0x42}, 32)
	id := DeviceIDFromBytes(raw)

	s := id.String()
	if len(s) == 0 {
		t.Fatal("empty string representation")
	}

	parsed, err := DeviceIDFromString(s)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !parsed.Equals(id) {
		t.Errorf("round trip mismatch: %v != %v", parsed, id)
	}
}

func TestDeviceIDShortLength(t *testing.T) {
	raw := bytes.Repeat([]byte{0x17}, 32)
	id := DeviceIDFromBytes(raw)
	if len(id.Short()) != 7 {
		t.Errorf("expected 7-character short ID, got %q", id.Short())
	}
}

func TestDeviceIDRejectsBadCheckDigit(t *testing.T) {
	raw := bytes.Repeat([]byte{0x99}, 32)
	id := DeviceIDFromBytes(raw)
	s := id.String()

	// Flip a character in the middle of the string, which should land
	// inside a Luhn-protected chunk and break its check digit.
	mutated := []rune(s)
	for i, r := range mutated {
		if r != '-' {
			if r == 'A' {
				mutated[i] = 'B'
			} else {
				mutated[i] = 'A'
			}
			break
		}
	}

	if _, err := DeviceIDFromString(string(mutated)); err == nil {
		t.Error("expected check digit mismatch to be rejected")
	}
}

func TestDeviceIDTyposCorrected(t *testing.T) {
	raw := bytes.Repeat([]byte{0x07}, 32)
	id := DeviceIDFromBytes(raw)
	s := id.String()

	typoed := strings.ReplaceAll(s, "O", "0")
	typoed = strings.ReplaceAll(typoed, "I", "1")

	parsed, err := DeviceIDFromString(typoed)
	if err != nil {
		t.Fatalf("expected typo-tolerant parse to succeed: %v", err)
	}
	if !parsed.Equals(id) {
		t.Errorf("typo-corrected parse mismatch")
	}
}

func TestLocalDeviceIDIsAllOnes(t *testing.T) {
	for _, b := range LocalDeviceID {
		if b != 0xff {
			t.Fatalf("LocalDeviceID must be all 0xff bytes")
		}
	}
}

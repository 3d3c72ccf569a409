// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package protocol

import (
	"fmt"
	"strings"
)

// luhnAlphabet is a string of N characters representing the digits of base N,
// used to generate and validate Luhn mod N check digits for device IDs.
type luhnAlphabet string

var base32Luhn luhnAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

func (a luhnAlphabet) generate(s string) (rune, error) {
	if err := a.check(); err != nil {
		return 0, err
	}

	factor := 1
	sum := 0
	n := len(a)

	for i := range s {
		codepoint := strings.IndexByte(string(a), s[i])
		if codepoint == -1 {
			return 0, fmt.Errorf("digit %q not valid in alphabet %q", s[i], a)
		}
		addend := factor * codepoint
		if factor == 2 {
			factor = 1
		} else {
			factor = 2
		}
		addend = (addend / n) + (addend % n)
		sum += addend
	}
	remainder := sum % n
	checkCodepoint := (n - remainder) % n
	return rune(a[checkCodepoint]), nil
}

func (a luhnAlphabet) check() error {
	cm := make(map[byte]bool, len(a))
	for i := range a {
		if cm[a[i]] {
			return fmt.Errorf("digit %q non-unique in alphabet %q", a[i], a)
		}
		cm[a[i]] = true
	}
	return nil
}

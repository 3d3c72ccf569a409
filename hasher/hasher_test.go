// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package hasher

import (
	"context"
	"crypto/sha256"
	"testing"
)

func TestValidate(t *testing.T) {
	data := []byte("block content")
	sum := sha256.Sum256(data)

	if !Validate(data, sum[:]) {
		t.Error("expected matching hash to validate")
	}
	if Validate(data, make([]byte, 32)) {
		t.Error("expected mismatched hash to fail validation")
	}
}

func TestPoolValidateReturnsOwnResult(t *testing.T) {
	p := NewPool(2, 4)
	defer p.Close()

	data := []byte("block content")
	sum := sha256.Sum256(data)

	ok, err := p.Validate(context.Background(), "default", "f", 0, data, sum[:])
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if !ok {
		t.Error("expected matching hash to validate")
	}

	ok, err = p.Validate(context.Background(), "default", "f", 0, data, make([]byte, 32))
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if ok {
		t.Error("expected mismatched hash to fail validation")
	}
}

func TestPoolValidatesConcurrently(t *testing.T) {
	p := NewPool(4, 8)
	defer p.Close()

	const n = 20
	for i := 0; i < n; i++ {
		data := []byte{byte(i)}
		sum := sha256.Sum256(data)
		p.Submit(Job{Path: "f", Offset: int64(i), Data: data, Expected: sum[:]})
	}

	seen := 0
	for seen < n {
		r := <-p.Results()
		if !r.Valid {
			t.Errorf("expected job %d to validate", r.Job.Offset)
		}
		seen++
	}
}

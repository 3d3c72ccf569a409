// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package protocol

import (
	"bytes"
	"testing"

	"github.com/d4l3k/messagediff"
)

func TestIndexMessageXDRRoundTrip(t *testing.T) {
	orig := IndexMessage{
		Folder: "default",
		Files: []FileInfo{
			{
				Name:        "foo/bar.txt",
				Type:        FileTypeFile,
				Size:        300000,
				Permissions: 0644,
				ModifiedS:   1700000000,
				BlockSize:   BlockSize,
				Version:     Vector{{ID: "aaaaaaa", Value: 1}},
				Sequence:    1,
				Blocks: []BlockInfo{
					{Offset: 0, Size: BlockSize, Hash: bytes.Repeat([]byte{1}, 32)},
					{Offset: BlockSize, Size: 300000 - BlockSize, Hash: bytes.Repeat([]byte{2}, 32)},
				},
			},
			{
				Name:    "baz",
				Type:    FileTypeDirectory,
				Version: Vector{{ID: "bbbbbbb", Value: 3}},
			},
		},
	}

	var buf bytes.Buffer
	if _, err := orig.EncodeXDR(&buf); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var decoded IndexMessage
	if err := decoded.DecodeXDR(&buf); err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if diff, equal := messagediff.PrettyDiff(orig, decoded); !equal {
		t.Errorf("round trip mismatch:\n%s", diff)
	}
}

func TestIndexUpdateMessageSharesIndexCodec(t *testing.T) {
	orig := IndexUpdateMessage{Folder: "docs", Files: []FileInfo{{Name: "a", Type: FileTypeFile}}}

	var buf bytes.Buffer
	if _, err := orig.EncodeXDR(&buf); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var decoded IndexUpdateMessage
	if err := decoded.DecodeXDR(&buf); err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if diff, equal := messagediff.PrettyDiff(orig, decoded); !equal {
		t.Errorf("round trip mismatch:\n%s", diff)
	}
}

func TestClusterConfigMessageXDRRoundTrip(t *testing.T) {
	orig := ClusterConfigMessage{
		Folders: []Folder{
			{
				ID:    "default",
				Label: "Default Folder",
				Devices: []Device{
					{ID: bytes.Repeat([]byte{1}, 32), MaxSequence: 42, IndexID: 123456789},
					{ID: bytes.Repeat([]byte{2}, 32), MaxSequence: 0, IndexID: 0},
				},
			},
		},
	}

	var buf bytes.Buffer
	if _, err := orig.EncodeXDR(&buf); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var decoded ClusterConfigMessage
	if err := decoded.DecodeXDR(&buf); err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if diff, equal := messagediff.PrettyDiff(orig, decoded); !equal {
		t.Errorf("round trip mismatch:\n%s", diff)
	}
}

func TestRequestResponseMessageXDRRoundTrip(t *testing.T) {
	req := RequestMessage{ID: 7, Folder: "default", Name: "foo", Offset: 128 * 1024, Size: 4096, Hash: bytes.Repeat([]byte{9}, 32)}

	var buf bytes.Buffer
	if _, err := req.EncodeXDR(&buf); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var decodedReq RequestMessage
	if err := decodedReq.DecodeXDR(&buf); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if diff, equal := messagediff.PrettyDiff(req, decodedReq); !equal {
		t.Errorf("request round trip mismatch:\n%s", diff)
	}

	resp := ResponseMessage{ID: 7, Data: []byte("hello world"), Code: CodeNoError}
	buf.Reset()
	if _, err := resp.EncodeXDR(&buf); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var decodedResp ResponseMessage
	if err := decodedResp.DecodeXDR(&buf); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if diff, equal := messagediff.PrettyDiff(resp, decodedResp); !equal {
		t.Errorf("response round trip mismatch:\n%s", diff)
	}
}

func TestNumBlocksAndBlockSizeFor(t *testing.T) {
	cases := []struct {
		size      int64
		blockSize uint32
		want      int
	}{
		{0, BlockSize, 0},
		{1, BlockSize, 1},
		{BlockSize, BlockSize, 1},
		{BlockSize + 1, BlockSize, 2},
		{BlockSize * 3, BlockSize, 3},
	}

	for _, c := range cases {
		got := NumBlocks(c.size, c.blockSize)
		if got != c.want {
			t.Errorf("NumBlocks(%d, %d) = %d, want %d", c.size, c.blockSize, got, c.want)
		}
	}

	// Last block holds the remainder; all prior blocks are full-sized.
	size := int64(BlockSize*2 + 77)
	n := NumBlocks(size, BlockSize)
	if n != 3 {
		t.Fatalf("expected 3 blocks, got %d", n)
	}
	if got := BlockSizeFor(size, BlockSize, 0, n); got != BlockSize {
		t.Errorf("first block should be full-sized, got %d", got)
	}
	if got := BlockSizeFor(size, BlockSize, n-1, n); got != 77 {
		t.Errorf("last block should hold the remainder, got %d", got)
	}
}

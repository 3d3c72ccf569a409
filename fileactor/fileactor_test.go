// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package fileactor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/syncspirit/syncspirit/diffs"
)

func TestAppendBlockThenFinishFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "foo.txt")

	a, err := New(2, nil)
	if err != nil {
		t.Fatalf("new actor: %v", err)
	}
	defer a.Close()

	data := []byte("hello world")
	if err := a.VisitAppendBlock(&diffs.AppendBlock{Path: path, Data: data, Offset: 0, FileSize: int64(len(data))}); err != nil {
		t.Fatalf("append_block: %v", err)
	}

	if err := a.VisitFinishFile(&diffs.FinishFile{Path: path, FileSize: int64(len(data)), ModificationS: 1700000000}); err != nil {
		t.Fatalf("finish_file: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read final file: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("content mismatch: got %q want %q", got, data)
	}

	if _, err := os.Stat(path + TempSuffix); !os.IsNotExist(err) {
		t.Errorf("expected temp file to be gone after finish_file")
	}
}

func TestCloneBlockIntraFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	if err := os.WriteFile(src, []byte("ABCDEFGH"), 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := New(2, nil)
	if err != nil {
		t.Fatalf("new actor: %v", err)
	}
	defer a.Close()

	target := filepath.Join(dir, "dst.txt")
	if err := a.VisitCloneBlock(&diffs.CloneBlock{
		Source: src, SourceOffset: 0, Target: target, TargetOffset: 0, TargetSize: 4, BlockSize: 4,
	}); err != nil {
		t.Fatalf("clone_block: %v", err)
	}
	if err := a.VisitFinishFile(&diffs.FinishFile{Path: target, FileSize: 4, ModificationS: 1700000000}); err != nil {
		t.Fatalf("finish_file: %v", err)
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(got) != "ABCD" {
		t.Errorf("cloned content mismatch: got %q", got)
	}
}

func TestRemoteCopyDeletedIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")

	a, err := New(2, nil)
	if err != nil {
		t.Fatalf("new actor: %v", err)
	}
	defer a.Close()

	if err := a.VisitRemoteCopy(&diffs.RemoteCopy{Path: path, Deleted: true}); err != nil {
		t.Fatalf("delete nonexistent: %v", err)
	}

	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := a.VisitRemoteCopy(&diffs.RemoteCopy{Path: path, Deleted: true}); err != nil {
		t.Fatalf("delete existing: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected file to be gone")
	}
}

func TestRequestBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := New(2, nil)
	if err != nil {
		t.Fatalf("new actor: %v", err)
	}
	defer a.Close()

	got, err := a.RequestBlock(path, 2, 5)
	if err != nil {
		t.Fatalf("request block: %v", err)
	}
	if string(got) != "23456" {
		t.Errorf("got %q, want %q", got, "23456")
	}
}

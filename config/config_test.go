// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config

import (
	"encoding/xml"
	"testing"
)

func TestConfigurationXMLRoundTrip(t *testing.T) {
	cfg := Configuration{
		Devices: []DeviceConfiguration{
			{DeviceID: "ABCDEFG-HIJKLMN", Name: "laptop", Addresses: []string{"tcp://10.0.0.1:22000"}},
		},
		Folders: []FolderConfiguration{
			{ID: "docs", Path: "/srv/docs", Devices: []FolderDeviceConfiguration{{DeviceID: "ABCDEFG-HIJKLMN"}}},
		},
		Options: OptionsConfiguration{MaxRequestsInFlight: 16, HashWorkers: 4},
	}

	raw, err := xml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Configuration
	if err := xml.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(got.Devices) != 1 || got.Devices[0].DeviceID != "ABCDEFG-HIJKLMN" {
		t.Fatalf("devices not round-tripped: %+v", got.Devices)
	}
	if len(got.Folders) != 1 || got.Folders[0].Path != "/srv/docs" {
		t.Fatalf("folders not round-tripped: %+v", got.Folders)
	}
}

func TestDeviceByID(t *testing.T) {
	cfg := Configuration{Devices: []DeviceConfiguration{{DeviceID: "X"}, {DeviceID: "Y"}}}
	if _, ok := cfg.DeviceByID("Y"); !ok {
		t.Fatal("expected to find device Y")
	}
	if _, ok := cfg.DeviceByID("Z"); ok {
		t.Fatal("did not expect to find device Z")
	}
}

func TestFolderByID(t *testing.T) {
	cfg := Configuration{Folders: []FolderConfiguration{{ID: "docs"}}}
	if _, ok := cfg.FolderByID("docs"); !ok {
		t.Fatal("expected to find folder docs")
	}
	if _, ok := cfg.FolderByID("missing"); ok {
		t.Fatal("did not expect to find folder missing")
	}
}

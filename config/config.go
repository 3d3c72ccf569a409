// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package config carries the plain data contracts the synchronization
// core is configured with, plus Load (read the XML file once) and Save
// (write it back on explicit request). The configuration file is not
// watched for changes.
package config

import (
	"encoding/xml"
	"os"

	"github.com/syncspirit/syncspirit/controller"
)

// Compression mirrors protocol.CompressionPreference in config-file form
// so the XML tags live next to the rest of the device's configuration
// rather than in the wire-protocol package.
type Compression string

const (
	CompressionMetadataOnly Compression = "metadata"
	CompressionAlways       Compression = "always"
	CompressionNever        Compression = "never"
)

// DeviceConfiguration is one entry in the cluster's device list.
type DeviceConfiguration struct {
	DeviceID    string      `xml:"id,attr"`
	Name        string      `xml:"name,attr,omitempty"`
	Addresses   []string    `xml:"address"`
	Compression Compression `xml:"compression,attr,omitempty"`
	Introducer  bool        `xml:"introducer,attr,omitempty"`
}

// FolderDeviceConfiguration associates a folder with one of the devices
// it's shared with.
type FolderDeviceConfiguration struct {
	DeviceID string `xml:"id,attr"`
}

// FolderConfiguration is one shared folder's local configuration.
type FolderConfiguration struct {
	ID        string                      `xml:"id,attr"`
	Label     string                      `xml:"label,attr,omitempty"`
	Path      string                      `xml:"path,attr"`
	Devices   []FolderDeviceConfiguration `xml:"device"`
	PullOrder controller.PullOrder        `xml:"order"`
	Versioning VersioningConfiguration    `xml:"versioning"`
}

// VersioningConfiguration selects how the file actor archives a file
// displaced by a conflict resolution (§4.4).
type VersioningConfiguration struct {
	Type        string `xml:"type,attr"` // "simple" or "" (no versioning)
	KeepVersions int    `xml:"keep"`
}

// OptionsConfiguration carries process-wide settings not scoped to a
// single device or folder.
type OptionsConfiguration struct {
	ListenAddresses    []string `xml:"listenAddress"`
	MaxRequestsInFlight int     `xml:"maxRequestsInFlight"`
	HashWorkers        int      `xml:"hashWorkers"`
	FileCacheSize      int      `xml:"fileCacheSize"`
}

// Configuration is the complete, already-loaded configuration handed to
// the core at startup.
type Configuration struct {
	Devices []DeviceConfiguration `xml:"device"`
	Folders []FolderConfiguration `xml:"folder"`
	Options OptionsConfiguration  `xml:"options"`
}

// DeviceByID returns the configured device matching id, if any.
func (c Configuration) DeviceByID(id string) (DeviceConfiguration, bool) {
	for _, d := range c.Devices {
		if d.DeviceID == id {
			return d, true
		}
	}
	return DeviceConfiguration{}, false
}

// FolderByID returns the configured folder matching id, if any.
func (c Configuration) FolderByID(id string) (FolderConfiguration, bool) {
	for _, f := range c.Folders {
		if f.ID == id {
			return f, true
		}
	}
	return FolderConfiguration{}, false
}

// xmlConfiguration is the on-disk shape of Configuration; kept separate
// so Configuration itself carries no XML-only baggage (mirrors the
// reference loader's own Configuration/xml.Name split).
type xmlConfiguration struct {
	XMLName xml.Name `xml:"configuration"`
	Configuration
}

// Load reads and decodes the configuration file at path, the way the
// reference implementation's config.Load decodes from an io.Reader, here
// collapsed to a path since this core owns no long-lived config watcher.
func Load(path string) (Configuration, error) {
	f, err := os.Open(path)
	if err != nil {
		return Configuration{}, err
	}
	defer f.Close()

	var xc xmlConfiguration
	if err := xml.NewDecoder(f).Decode(&xc); err != nil {
		return Configuration{}, err
	}
	return xc.Configuration, nil
}

// Save encodes cfg to path as indented XML, mirroring the reference
// implementation's Save.
func Save(path string, cfg Configuration) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	e := xml.NewEncoder(f)
	e.Indent("", "    ")
	return e.Encode(xmlConfiguration{Configuration: cfg})
}

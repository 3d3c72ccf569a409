// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/syncspirit/syncspirit/config"
	"github.com/syncspirit/syncspirit/connections"
	"github.com/syncspirit/syncspirit/controller"
	"github.com/syncspirit/syncspirit/events"
	"github.com/syncspirit/syncspirit/fileactor"
	"github.com/syncspirit/syncspirit/model"
	"github.com/syncspirit/syncspirit/protocol"
	"github.com/syncspirit/syncspirit/storage"
	"github.com/syncspirit/syncspirit/versioner"
)

func main() {
	log.SetFlags(log.Lshortfile | log.LstdFlags)

	var (
		keyDir         string
		dbDir          string
		configPath     string
		hashWorkers    int
		requestBudget  int
		fileCache      int
	)
	flag.StringVar(&keyDir, "keys", ".", "directory containing cert.pem and key.pem")
	flag.StringVar(&dbDir, "db", "./index", "directory for the on-disk index database")
	flag.StringVar(&configPath, "config", "config.xml", "path to the device/folder configuration file")
	flag.IntVar(&hashWorkers, "hash-workers", 4, "number of concurrent block-hash validators")
	flag.IntVar(&requestBudget, "request-budget", 16*protocol.BlockSize, "outstanding block request byte budget")
	flag.IntVar(&fileCache, "file-cache", 4, "open file handles cached per read/write direction")
	flag.Parse()

	cert, id, err := connections.ParseCertificate(
		mustRead(filepath.Join(keyDir, "cert.pem")),
		mustRead(filepath.Join(keyDir, "key.pem")),
	)
	if err != nil {
		log.Fatalln("loading certificate:", err)
	}
	log.Println("local device ID:", id)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalln("loading configuration:", err)
	}

	db, err := storage.OpenLevelDB(dbDir)
	if err != nil {
		log.Fatalln("opening index:", err)
	}
	defer db.Close()

	store := storage.NewFileStore(db)

	for _, f := range cfg.Folders {
		diff, err := store.ScanForCorruption(f.ID, id.Short())
		if err != nil {
			log.Fatalln("scanning folder", f.ID, "for corruption:", err)
		}
		if diff != nil {
			scanner := &storage.CorruptionScanner{Store: store, Device: id.Short()}
			if err := diff.Visit(scanner); err != nil {
				log.Fatalln("removing corrupted entries in folder", f.ID, ":", err)
			}
			log.Println("folder", f.ID, ": dropped", len(diff.Names), "corrupted entries at startup")
		}
	}

	actor, err := fileactor.New(fileCache, versioner.Keeper{})
	if err != nil {
		log.Fatalln("starting file actor:", err)
	}

	ctrl := controller.New(id, store, actor, hashWorkers, int64(requestBudget))
	for _, f := range cfg.Folders {
		devices := make([]string, 0, len(f.Devices))
		for _, d := range f.Devices {
			devID, err := protocol.DeviceIDFromString(d.DeviceID)
			if err != nil {
				log.Fatalln("folder", f.ID, "device", d.DeviceID, ":", err)
			}
			devices = append(devices, devID.Short())
		}
		ctrl.AddFolder(controller.Folder{ID: f.ID, LocalPath: f.Path, Order: f.PullOrder, Devices: devices})
	}

	bus := events.NewLogger()
	dialer := connections.NewDialer(nil, bus)
	dialerNotifier := dialNotifier{initiator: connections.NewInitiator(cert), controller: ctrl, dialer: dialer}
	dialer.SetNotifier(dialerNotifier)
	ctrl.SetOnlineHook(func(devID protocol.DeviceID) { dialer.Tracker(devID).Set(model.StateOnline) })

	for _, d := range cfg.Devices {
		devID, err := protocol.DeviceIDFromString(d.DeviceID)
		if err != nil {
			log.Fatalln("device", d.DeviceID, ":", err)
		}
		dialer.MarkOffline(devID, d.Addresses)
	}

	sup := suture.NewSimple("syncspirit")
	sup.Add(ctrl)
	sup.Add(actor)
	sup.Add(dialer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Fatalln("supervisor exited:", err)
	}
}

func mustRead(path string) []byte {
	b, err := os.ReadFile(path)
	if err != nil {
		log.Fatalln("reading", path, ":", err)
	}
	return b
}

// dialNotifier adapts an Initiator + Controller pair into the
// connections.Notifier the Dialer calls back into on each redial tick.
type dialNotifier struct {
	initiator  *connections.Initiator
	controller *controller.Controller
	dialer     *connections.Dialer
}

func (n dialNotifier) TryDial(device protocol.DeviceID, uris []string) {
	conn, err := n.initiator.Dial(device, uris, tlsHandshakeTimeout)
	if err != nil {
		// Tracker stays in StateDialing; the caller re-arms the redial
		// timer when it observes the state didn't advance.
		return
	}

	tracker := n.dialer.Tracker(device)
	tracker.Set(model.StateConnecting)
	tracker.Set(model.StateConnected)
	n.dialer.MarkOnline(device)

	pc := protocol.NewConnection(device, conn, n.controller, device.String(), protocol.CompressionMetadataOnly)
	n.controller.AddConnection(device, pc)
}

// RequestDiscovery would hand device off to a discovery collaborator; none
// is wired into this process, so a failed static dial simply waits for the
// next redial tick.
func (n dialNotifier) RequestDiscovery(device protocol.DeviceID) {
	log.Println("discovery requested for", device.Short(), "but no discovery backend is configured")
}

const tlsHandshakeTimeout = 10 * time.Second

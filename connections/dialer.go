// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package connections

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/syncspirit/syncspirit/events"
	"github.com/syncspirit/syncspirit/model"
	"github.com/syncspirit/syncspirit/protocol"
)

// defaultRedialInterval is how long the Dialer waits after a failed or
// torn-down connection attempt before trying the same device again
// (§4.3). It is not exponential backoff: the reference dialer's own
// policy is a fixed interval per device, re-armed independently each time
// the device goes offline.
const defaultRedialInterval = 60 * time.Second

// dialRate and dialBurst bound how many devices this process dials per
// second across the whole cluster: every device's redial timer is
// independent, so without a shared throttle a large cluster coming back
// from a network blip would fire every dial attempt in the same instant.
const (
	dialRate  = 5
	dialBurst = 5
)

// Notifier is how a Dialer asks its owner to actually attempt a
// connection; the process entrypoint supplies this, wrapping
// Initiator.Dial and feeding a successful result back through
// MarkOnline and the controller's AddConnection.
// RequestDiscovery is called instead of TryDial when a device has no
// static URI configured; the (out-of-scope, §6) global/local discovery
// collaborators are expected to resolve an address and call
// Dialer.ResolveURIs asynchronously.
type Notifier interface {
	TryDial(device protocol.DeviceID, uris []string)
	RequestDiscovery(device protocol.DeviceID)
}

type deviceTimer struct {
	uris  []string
	timer *time.Timer
}

// Dialer keeps one redial timer per device: MarkOffline arms (or
// re-arms) the timer for redialInterval; MarkOnline or RemoveDevice
// cancels it. Only one outstanding timer exists per device at a time,
// matching the reference dialer's one-goroutine-per-device design
// collapsed here into one timer per device under a single Dialer. Each
// device also carries a model.StateTracker so the offline/discovering/
// discovered/dialing/connecting/connected/online lifecycle (§3, §4.3)
// is explicit and transition-checked rather than implied by which maps
// happen to hold an entry.
type Dialer struct {
	mu             sync.Mutex
	redialInterval time.Duration
	notifier       Notifier
	bus            *events.Logger
	dialLimiter    *rate.Limiter
	timers         map[string]*deviceTimer
	devices        map[string]protocol.DeviceID
	states         map[string]*model.StateTracker
}

// NewDialer builds a Dialer. bus may be nil; passed through to every
// device's StateTracker so state transitions are observable on the
// shared event bus alongside connect/disconnect events.
func NewDialer(notifier Notifier, bus *events.Logger) *Dialer {
	return &Dialer{
		redialInterval: defaultRedialInterval,
		notifier:       notifier,
		bus:            bus,
		dialLimiter:    rate.NewLimiter(rate.Limit(dialRate), dialBurst),
		timers:         make(map[string]*deviceTimer),
		devices:        make(map[string]protocol.DeviceID),
		states:         make(map[string]*model.StateTracker),
	}
}

// Tracker returns device's state tracker, creating it (in StateUnknown)
// on first use.
func (d *Dialer) Tracker(device protocol.DeviceID) *model.StateTracker {
	key := device.Short()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.trackerLocked(key)
}

func (d *Dialer) trackerLocked(key string) *model.StateTracker {
	st, ok := d.states[key]
	if !ok {
		st = model.NewStateTracker(key, d.bus)
		d.states[key] = st
	}
	return st
}

// SetNotifier replaces the Notifier a Dialer calls back into. Used when the
// notifier itself needs a reference to the Dialer (to drive state
// transitions on successful dials), which isn't available until after
// NewDialer returns.
func (d *Dialer) SetNotifier(notifier Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifier = notifier
}

// SetRedialInterval overrides the default, mainly for tests.
func (d *Dialer) SetRedialInterval(interval time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.redialInterval = interval
}

// MarkOffline arms device's redial timer for uris, replacing any timer
// already running for it (§4.3: "offline → arm timer").
func (d *Dialer) MarkOffline(device protocol.DeviceID, uris []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := device.Short()
	d.devices[key] = device
	d.trackerLocked(key).Set(model.StateOffline)
	if dt, ok := d.timers[key]; ok {
		dt.timer.Stop()
	}

	dt := &deviceTimer{uris: uris}
	dt.timer = time.AfterFunc(d.redialInterval, func() { d.fire(key) })
	d.timers[key] = dt
}

// MarkOnline cancels device's redial timer, if any (§4.3: "→online →
// cancel timer"). It does not change the device's tracker: the caller
// advances it to StateConnected itself, and the controller advances it
// the rest of the way to StateOnline once a ClusterConfig has actually
// been exchanged; see Controller.SetOnlineHook.
func (d *Dialer) MarkOnline(device protocol.DeviceID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked(device.Short())
}

// RemoveDevice cancels and forgets device's timer entirely, used when the
// device is removed from configuration.
func (d *Dialer) RemoveDevice(device protocol.DeviceID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked(device.Short())
	delete(d.devices, device.Short())
	delete(d.states, device.Short())
}

func (d *Dialer) cancelLocked(key string) {
	if dt, ok := d.timers[key]; ok {
		dt.timer.Stop()
		delete(d.timers, key)
	}
}

func (d *Dialer) fire(key string) {
	d.mu.Lock()
	device, ok := d.devices[key]
	dt, hasTimer := d.timers[key]
	d.mu.Unlock()
	if !ok || !hasTimer {
		return
	}

	if len(dt.uris) == 0 {
		d.Tracker(device).Set(model.StateDiscovering)
		d.notifier.RequestDiscovery(device)
		d.MarkOffline(device, dt.uris)
		return
	}

	tracker := d.Tracker(device)
	tracker.Set(model.StateDialing)
	d.dialLimiter.Wait(context.Background())
	d.notifier.TryDial(device, dt.uris)

	// TryDial is synchronous; a successful attempt is expected to have
	// already driven the tracker past StateDialing (via MarkOnline and
	// the controller's online hook). Only re-arm for another attempt if
	// it didn't.
	if st, _ := tracker.Get(); st == model.StateDialing {
		d.MarkOffline(device, dt.uris)
	}
}

// ResolveURIs is called by the (out-of-scope) discovery collaborators
// once they resolve an address for device, advancing
// discovering->discovered->dialing and attempting the dial immediately
// (§4.3).
func (d *Dialer) ResolveURIs(device protocol.DeviceID, uris []string) {
	tracker := d.Tracker(device)
	tracker.Set(model.StateDiscovered)

	d.mu.Lock()
	if dt, ok := d.timers[device.Short()]; ok {
		dt.timer.Stop()
		dt.uris = uris
	}
	d.mu.Unlock()

	tracker.Set(model.StateDialing)
	d.dialLimiter.Wait(context.Background())
	d.notifier.TryDial(device, uris)
	if st, _ := tracker.Get(); st == model.StateDialing {
		d.MarkOffline(device, uris)
	}
}

// Serve implements suture.Service: the Dialer's work happens entirely in
// timer callbacks, so Serve just blocks until the supervisor tears it
// down, at which point every outstanding timer is cancelled.
func (d *Dialer) Serve(ctx context.Context) error {
	<-ctx.Done()

	d.mu.Lock()
	defer d.mu.Unlock()
	for key := range d.timers {
		d.cancelLocked(key)
	}
	return ctx.Err()
}

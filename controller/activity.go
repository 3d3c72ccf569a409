// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package controller

import "sync"

// deviceActivity tracks the number of outstanding requests per device so
// the puller can prefer the least busy of several devices that all
// advertise a needed file (§4.1).
type deviceActivity struct {
	mut sync.Mutex
	act map[string]int
}

func newDeviceActivity() *deviceActivity {
	return &deviceActivity{act: make(map[string]int)}
}

func (a *deviceActivity) leastBusy(candidates []string) string {
	a.mut.Lock()
	defer a.mut.Unlock()

	low := int(^uint(0) >> 1)
	var selected string
	for _, device := range candidates {
		if usage := a.act[device]; usage < low {
			low = usage
			selected = device
		}
	}
	return selected
}

func (a *deviceActivity) using(device string) {
	a.mut.Lock()
	defer a.mut.Unlock()
	a.act[device]++
}

func (a *deviceActivity) done(device string) {
	a.mut.Lock()
	defer a.mut.Unlock()
	a.act[device]--
}

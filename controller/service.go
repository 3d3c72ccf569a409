// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package controller

import "context"

// Serve implements suture.Service so a Controller can be supervised
// alongside the dialer and the file actor under one restart tree (§2,
// §5). The Controller itself is driven entirely by Model callbacks and
// goroutines spawned from wake, so Serve only needs to close outstanding
// connections and its hasher pool when the supervisor tears it down.
func (c *Controller) Serve(ctx context.Context) error {
	<-ctx.Done()

	c.mu.Lock()
	conns := make([]string, 0, len(c.conns))
	for id, conn := range c.conns {
		conn.Close(ctx.Err())
		conns = append(conns, id)
	}
	for _, id := range conns {
		delete(c.conns, id)
	}
	c.mu.Unlock()

	c.hash.Close()
	return ctx.Err()
}

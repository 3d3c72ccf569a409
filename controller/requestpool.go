// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package controller

import (
	"context"
	"sync"
)

// requestPool is the exact-byte request budget §5/§8 describe: the sum of
// every block Request in flight at once, across every folder and peer
// this Controller serves, may never exceed budget bytes. acquire blocks
// until size bytes are available (or ctx ends); release returns exactly
// the size that was acquired, called unconditionally once that Request's
// outcome is known, whether it succeeded, failed, or timed out. A
// time-based rate limiter can't express this: two 1-byte requests and one
// 256KiB request consume the pool identically under a request-count
// limiter, but very differently under this byte budget.
type requestPool struct {
	mu        sync.Mutex
	cond      *sync.Cond
	available int64
}

func newRequestPool(budget int64) *requestPool {
	p := &requestPool{available: budget}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// acquire blocks until size bytes are available in the pool or ctx is
// done. A goroutine that only exists to rebroadcast ctx's cancellation
// wakes any acquire calls parked in cond.Wait, since sync.Cond has no
// context-aware wait of its own.
func (p *requestPool) acquire(ctx context.Context, size int64) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-done:
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.available < size {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.cond.Wait()
	}
	p.available -= size
	return nil
}

// release returns size bytes to the pool, waking anything blocked in
// acquire that might now fit.
func (p *requestPool) release(size int64) {
	p.mu.Lock()
	p.available += size
	p.cond.Broadcast()
	p.mu.Unlock()
}

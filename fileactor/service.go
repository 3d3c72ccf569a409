// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package fileactor

import "context"

// Serve implements suture.Service: the Actor does all of its work
// synchronously inside Visit*/RequestBlock calls made by whatever holds
// it, so Serve just waits for the supervisor to tear it down and then
// flushes every cached handle.
func (a *Actor) Serve(ctx context.Context) error {
	<-ctx.Done()
	a.Close()
	return ctx.Err()
}

// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package protocol

import (
	"os"
	"strings"

	"github.com/calmh/logger"
)

var l = logger.DefaultLogger

var debug = strings.Contains(os.Getenv("SPTRACE"), "protocol") || os.Getenv("SPTRACE") == "all"

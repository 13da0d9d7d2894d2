// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build !linux

package planner

import "errors"

// ProbeDevice opens the block device node for inspection.
func ProbeDevice(string) (Device, error) {
	return nil, errors.New("block device probing is only supported on linux")
}

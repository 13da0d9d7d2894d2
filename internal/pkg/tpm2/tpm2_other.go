// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build !linux

// Package tpm2 provides access to the TPM 2.0 device.
package tpm2

import (
	"errors"

	"github.com/google/go-tpm/tpm2/transport"
)

// Open a TPM 2.0 device.
func Open() (transport.TPMCloser, error) {
	return nil, errors.New("TPM device is not available")
}

// Present reports whether a TPM 2.0 device exists on this machine.
func Present() bool {
	return false
}

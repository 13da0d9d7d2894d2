// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

// Package tpm2 provides access to the TPM 2.0 device.
package tpm2

import (
	"errors"
	"os"

	"github.com/google/go-tpm/tpm2/transport"
	"github.com/google/go-tpm/tpm2/transport/linuxtpm"
)

var devicePaths = []string{"/dev/tpmrm0", "/dev/tpm0"}

// Open a TPM 2.0 device, preferring the in-kernel resource manager.
func Open() (transport.TPMCloser, error) {
	var errs error

	for _, path := range devicePaths {
		t, err := linuxtpm.Open(path)
		if err == nil {
			return t, nil
		}

		errs = errors.Join(errs, err)
	}

	return nil, errs
}

// Present reports whether a TPM 2.0 device exists on this machine.
func Present() bool {
	for _, path := range devicePaths {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}

	return false
}

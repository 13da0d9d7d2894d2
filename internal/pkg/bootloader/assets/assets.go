// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package assets locates the kernel and initramfs inside a deployment root.
package assets

import (
	"fmt"
	"os"
	"path/filepath"
)

// Assets are the boot files shipped in the OS image.
type Assets struct {
	KernelVersion string
	KernelPath    string
	InitramfsPath string
}

// Find locates the boot assets under usr/lib/modules/<version>/ in the
// deployment root. Exactly one kernel must be present.
func Find(rootPath string) (Assets, error) {
	kernels, err := filepath.Glob(filepath.Join(rootPath, "usr/lib/modules/*/vmlinuz"))
	if err != nil {
		return Assets{}, err
	}

	switch len(kernels) {
	case 0:
		return Assets{}, fmt.Errorf("no kernel found under %s", filepath.Join(rootPath, "usr/lib/modules"))
	case 1:
		// ok
	default:
		return Assets{}, fmt.Errorf("multiple kernels found under %s", filepath.Join(rootPath, "usr/lib/modules"))
	}

	moduleDir := filepath.Dir(kernels[0])

	initramfs := filepath.Join(moduleDir, "initramfs.img")

	if _, err := os.Stat(initramfs); err != nil {
		return Assets{}, fmt.Errorf("no initramfs next to the kernel: %w", err)
	}

	return Assets{
		KernelVersion: filepath.Base(moduleDir),
		KernelPath:    kernels[0],
		InitramfsPath: initramfs,
	}, nil
}

// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package planner

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/siderolabs/go-blockdevice/v2/blkid"
	"golang.org/x/sys/unix"
)

type blockDevice struct {
	path string
}

// ProbeDevice opens the block device node for inspection.
func ProbeDevice(path string) (Device, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", path, err)
	}

	if st.Mode()&os.ModeDevice == 0 {
		return nil, fmt.Errorf("%s is not a block device", path)
	}

	return &blockDevice{path: path}, nil
}

func (d *blockDevice) Path() string { return d.path }

func (d *blockDevice) Size() (uint64, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return 0, err
	}

	defer f.Close() //nolint:errcheck

	size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, fmt.Errorf("failed to get size of %s: %w", d.path, err)
	}

	return uint64(size), nil
}

func (d *blockDevice) IsWholeDisk() (bool, error) {
	// partitions expose a "partition" attribute in sysfs, whole disks don't
	_, err := os.Stat(filepath.Join("/sys/class/block", filepath.Base(d.path), "partition"))
	if err == nil {
		return false, nil
	}

	if os.IsNotExist(err) {
		return true, nil
	}

	return false, err
}

func (d *blockDevice) Empty() (bool, error) {
	info, err := blkid.ProbePath(d.path)
	if err != nil {
		return false, fmt.Errorf("failed to probe %s: %w", d.path, err)
	}

	switch {
	case info.Name == "":
		return true, nil
	case info.Name == "gpt" && len(info.Parts) == 0:
		return true, nil
	default:
		return false, nil
	}
}

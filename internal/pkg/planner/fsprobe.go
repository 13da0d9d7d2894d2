// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package planner

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/ociboot/ociboot/internal/pkg/partition"
)

func mountedFilesystemType(path string) (partition.FileSystemType, error) {
	var st unix.Statfs_t

	if err := unix.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %s: %w", path, err)
	}

	switch uint32(st.Type) {
	case unix.XFS_SUPER_MAGIC:
		return partition.FilesystemTypeXFS, nil
	case unix.EXT4_SUPER_MAGIC:
		return partition.FilesystemTypeExt4, nil
	case unix.BTRFS_SUPER_MAGIC:
		return partition.FilesystemTypeBtrfs, nil
	default:
		return "", fmt.Errorf("unsupported filesystem magic %#x at %s", st.Type, path)
	}
}

// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package partition

import (
	"fmt"

	"github.com/siderolabs/go-cmd/pkg/cmd"
)

// FileSystemType is the filesystem type.
type FileSystemType string

// Supported filesystem types.
const (
	FilesystemTypeNone  FileSystemType = "none"
	FilesystemTypeVFAT  FileSystemType = "vfat"
	FilesystemTypeXFS   FileSystemType = "xfs"
	FilesystemTypeExt4  FileSystemType = "ext4"
	FilesystemTypeBtrfs FileSystemType = "btrfs"
)

// ParseFileSystemType validates a user-supplied root filesystem type.
func ParseFileSystemType(s string) (FileSystemType, error) {
	switch t := FileSystemType(s); t {
	case FilesystemTypeXFS, FilesystemTypeExt4, FilesystemTypeBtrfs:
		return t, nil
	default:
		return "", fmt.Errorf("unsupported root filesystem type: %q", s)
	}
}

// FormatOptions contains format parameters.
type FormatOptions struct {
	Label          string
	FileSystemType FileSystemType
	Force          bool
}

// Format creates a filesystem on the device using the matching mkfs tool.
func Format(devname string, t *FormatOptions, printf func(string, ...any)) error {
	if t.FileSystemType == FilesystemTypeNone {
		return nil
	}

	printf("formatting %q as %q with label %q", devname, t.FileSystemType, t.Label)

	var (
		tool string
		args []string
	)

	switch t.FileSystemType {
	case FilesystemTypeVFAT:
		tool = "mkfs.vfat"
		args = append(args, "-F", "32")

		if t.Label != "" {
			args = append(args, "-n", t.Label)
		}
	case FilesystemTypeXFS:
		tool = "mkfs.xfs"

		if t.Force {
			args = append(args, "-f")
		}

		if t.Label != "" {
			args = append(args, "-L", t.Label)
		}
	case FilesystemTypeExt4:
		tool = "mkfs.ext4"

		if t.Force {
			args = append(args, "-F")
		}

		if t.Label != "" {
			args = append(args, "-L", t.Label)
		}
	case FilesystemTypeBtrfs:
		tool = "mkfs.btrfs"

		if t.Force {
			args = append(args, "--force")
		}

		if t.Label != "" {
			args = append(args, "--label", t.Label)
		}
	default:
		return fmt.Errorf("unsupported filesystem type: %q", t.FileSystemType)
	}

	args = append(args, devname)

	if _, err := cmd.Run(tool, args...); err != nil {
		return fmt.Errorf("%s on %s: %w", tool, devname, err)
	}

	return nil
}

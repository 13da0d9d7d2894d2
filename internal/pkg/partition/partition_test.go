// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package partition_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ociboot/ociboot/internal/pkg/partition"
)

func TestParseFileSystemType(t *testing.T) {
	for _, valid := range []string{"xfs", "ext4", "btrfs"} {
		fsType, err := partition.ParseFileSystemType(valid)
		require.NoError(t, err)
		assert.Equal(t, partition.FileSystemType(valid), fsType)
	}

	for _, invalid := range []string{"", "vfat", "zfs"} {
		_, err := partition.ParseFileSystemType(invalid)
		assert.Error(t, err)
	}
}

func TestSystemPartitionOptions(t *testing.T) {
	esp := partition.SystemPartitionOptions(partition.RoleESP, partition.FilesystemTypeXFS, 0, false)
	assert.Equal(t, partition.EFISystemPartition, esp.PartitionType)
	assert.Equal(t, partition.FilesystemTypeVFAT, esp.FileSystemType)
	assert.EqualValues(t, partition.EFISize, esp.Size)

	boot := partition.SystemPartitionOptions(partition.RoleBoot, partition.FilesystemTypeXFS, 0, false)
	assert.Equal(t, partition.LinuxFilesystemData, boot.PartitionType)
	assert.Equal(t, partition.FilesystemTypeExt4, boot.FileSystemType)

	root := partition.SystemPartitionOptions(partition.RoleRoot, partition.FilesystemTypeXFS, 10<<30, true)
	assert.Equal(t, partition.LinuxLUKS, root.PartitionType)
	assert.Equal(t, partition.FilesystemTypeXFS, root.FileSystemType)
	assert.EqualValues(t, 10<<30, root.Size)
	assert.True(t, root.Encrypt)
}

func TestFastWipeMissingDevice(t *testing.T) {
	err := partition.FastWipe(filepath.Join(t.TempDir(), "no-such-device"))
	assert.Error(t, err)
}

// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package partition provides partition roles, sizing and format parameters
// for the system partitions.
package partition

// Role of a partition in the installed system.
type Role string

// Partition roles, in the order they are allocated on disk.
const (
	RoleESP  Role = "esp"
	RoleBoot Role = "boot"
	RoleRoot Role = "root"
)

// Partition labels.
const (
	ESPLabel  = "ESP"
	BootLabel = "BOOT"
	RootLabel = "ROOT"
)

// GPT partition type GUIDs.
const (
	// EFISystemPartition is the ESP type GUID.
	EFISystemPartition = "C12A7328-F81F-11D2-BA4B-00A0C93EC93B"
	// LinuxFilesystemData is the generic Linux filesystem type GUID.
	LinuxFilesystemData = "0FC63DAF-8483-4772-8E79-3D69D8477DE4"
	// LinuxLUKS is the Linux LUKS container type GUID.
	LinuxLUKS = "CA7D7CCB-63ED-4C53-861C-1742536059CC"
)

// MiB is 2^20 bytes.
const MiB = 1024 * 1024

// Fixed partition sizes.
const (
	// EFISize is the size of the EFI system partition.
	EFISize = 512 * MiB
	// BootSize is the size of the boot partition.
	BootSize = 1024 * MiB
	// GPTOverhead reserves space for the primary and backup GPT headers.
	GPTOverhead = 2 * MiB
)

// Options describes a partition to allocate.
type Options struct {
	Label          string
	Role           Role
	PartitionType  string
	Size           uint64 // 0 means remaining free space
	FileSystemType FileSystemType
	Encrypt        bool
}

// SystemPartitionOptions returns the allocation parameters for a system
// partition role; the root filesystem type and encryption mode vary per
// install, everything else is fixed.
func SystemPartitionOptions(role Role, rootFilesystem FileSystemType, rootSize uint64, encrypt bool) Options {
	switch role {
	case RoleESP:
		return Options{
			Label:          ESPLabel,
			Role:           RoleESP,
			PartitionType:  EFISystemPartition,
			Size:           EFISize,
			FileSystemType: FilesystemTypeVFAT,
		}
	case RoleBoot:
		return Options{
			Label:          BootLabel,
			Role:           RoleBoot,
			PartitionType:  LinuxFilesystemData,
			Size:           BootSize,
			FileSystemType: FilesystemTypeExt4,
		}
	case RoleRoot:
		typ := LinuxFilesystemData
		if encrypt {
			typ = LinuxLUKS
		}

		return Options{
			Label:          RootLabel,
			Role:           RoleRoot,
			PartitionType:  typ,
			Size:           rootSize,
			FileSystemType: rootFilesystem,
			Encrypt:        encrypt,
		}
	default:
		panic("unknown partition role: " + string(role))
	}
}

// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/siderolabs/go-blockdevice/v2/blkid"
	"github.com/siderolabs/go-blockdevice/v2/block"
	"github.com/siderolabs/go-blockdevice/v2/partitioning"
	"github.com/siderolabs/go-blockdevice/v2/partitioning/gpt"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/ociboot/ociboot/internal/pkg/luks"
	"github.com/ociboot/ociboot/internal/pkg/partition"
	"github.com/ociboot/ociboot/internal/pkg/planner"
)

// RootMapperName is the device-mapper name of the opened encrypted root.
const RootMapperName = "ociboot-root"

// mountBase is where the finalized target filesystems are mounted during
// installation.
const mountBase = "/run/ociboot/target"

type diskExecutor struct {
	logger *zap.Logger
}

func newDiskExecutor(logger *zap.Logger) DiskExecutor {
	return &diskExecutor{logger: logger}
}

// Execute wipes and partitions the disk per the plan, sets up encryption
// and filesystems, and mounts the target tree under mountBase.
//
//nolint:gocyclo
func (e *diskExecutor) Execute(plan *planner.Plan, printf func(string, ...any)) (*DiskTarget, error) {
	ctx := context.Background()

	if err := e.partitionDisk(plan, printf); err != nil {
		return nil, err
	}

	target := &DiskTarget{}

	// format in partition order; the root partition may get an encryption
	// layer first
	for idx, p := range plan.Partitions {
		devName := partitioning.DevName(plan.Device, uint(idx+1))

		if p.Encrypt {
			mapped, luksUUID, err := e.encryptDevice(ctx, devName)
			if err != nil {
				return nil, err
			}

			target.LUKSUUID = luksUUID
			devName = mapped
		}

		if err := partition.Format(devName, &partition.FormatOptions{
			Label:          p.Label,
			FileSystemType: p.FileSystemType,
			Force:          true,
		}, printf); err != nil {
			return nil, err
		}
	}

	return e.mountTarget(plan, target)
}

func (e *diskExecutor) partitionDisk(plan *planner.Plan, printf func(string, ...any)) error {
	bd, err := block.NewFromPath(plan.Device, block.OpenForWrite())
	if err != nil {
		return fmt.Errorf("failed to open blockdevice %s: %w", plan.Device, err)
	}

	defer bd.Close() //nolint:errcheck

	if err = bd.Lock(true); err != nil {
		return fmt.Errorf("failed to lock blockdevice %s: %w", plan.Device, err)
	}

	defer bd.Unlock() //nolint:errcheck

	if plan.Wipe {
		printf("wiping %s", plan.Device)

		// the wipe opens its own handle; the exclusive lock is held here
		if err = partition.FastWipe(plan.Device); err != nil {
			return fmt.Errorf("failed to wipe blockdevice %s: %w", plan.Device, err)
		}
	}

	gptdev, err := gpt.DeviceFromBlockDevice(bd)
	if err != nil {
		return fmt.Errorf("error getting GPT device: %w", err)
	}

	pt, err := gpt.New(gptdev, gpt.WithMarkPMBRBootable())
	if err != nil {
		return fmt.Errorf("failed to initialize GPT: %w", err)
	}

	for _, p := range plan.Partitions {
		size := p.Size

		if size == 0 {
			size = pt.LargestContiguousAllocatable()
		}

		if _, _, err = pt.AllocatePartition(size, p.Label, uuid.MustParse(p.PartitionType)); err != nil {
			return fmt.Errorf("failed to allocate partition %s: %w", p.Label, err)
		}

		printf("created %s (%s) size %d bytes", p.Label, p.PartitionType, size)
	}

	if err = pt.Write(); err != nil {
		return fmt.Errorf("failed to write GPT: %w", err)
	}

	return nil
}

// encryptDevice formats the partition as a LUKS2 container with a fresh
// key, opens it and enrolls the TPM2, returning the mapped device path and
// the container UUID.
func (e *diskExecutor) encryptDevice(ctx context.Context, devName string) (string, string, error) {
	handler, err := luks.NewHandler(e.logger)
	if err != nil {
		return "", "", err
	}

	key, err := luks.GenerateKey()
	if err != nil {
		return "", "", err
	}

	if err := handler.Encrypt(ctx, devName, key); err != nil {
		return "", "", err
	}

	mapped, err := handler.Open(ctx, devName, RootMapperName, key)
	if err != nil {
		return "", "", err
	}

	if err := handler.BindTPM2(ctx, devName, key); err != nil {
		return "", "", err
	}

	info, err := blkid.ProbePath(devName, blkid.WithSkipLocking(true))
	if err != nil {
		return "", "", fmt.Errorf("failed to probe %s: %w", devName, err)
	}

	var luksUUID string

	if info.UUID != nil {
		luksUUID = info.UUID.String()
	}

	return mapped, luksUUID, nil
}

func (e *diskExecutor) mountTarget(plan *planner.Plan, target *DiskTarget) (*DiskTarget, error) {
	target.RootPath = mountBase
	target.BootPath = filepath.Join(mountBase, "boot")
	target.ESPPath = filepath.Join(mountBase, "boot/efi")

	rootIdx := -1

	for idx, p := range plan.Partitions {
		if p.Role == partition.RoleRoot {
			rootIdx = idx
		}
	}

	if rootIdx < 0 {
		return nil, fmt.Errorf("plan for %s has no root partition", plan.Device)
	}

	rootDev := partitioning.DevName(plan.Device, uint(rootIdx+1))

	if plan.Encrypt {
		rootDev = filepath.Join("/dev/mapper", RootMapperName)
	}

	if err := os.MkdirAll(target.RootPath, 0o755); err != nil {
		return nil, err
	}

	if err := unix.Mount(rootDev, target.RootPath, string(plan.RootFilesystem), 0, ""); err != nil {
		return nil, fmt.Errorf("failed to mount %s at %s: %w", rootDev, target.RootPath, err)
	}

	mounts := []struct {
		role   partition.Role
		path   string
		fstype string
	}{
		{partition.RoleBoot, target.BootPath, string(partition.FilesystemTypeExt4)},
		{partition.RoleESP, target.ESPPath, string(partition.FilesystemTypeVFAT)},
	}

	for _, m := range mounts {
		for idx, p := range plan.Partitions {
			if p.Role != m.role {
				continue
			}

			dev := partitioning.DevName(plan.Device, uint(idx+1))

			if err := os.MkdirAll(m.path, 0o755); err != nil {
				return nil, err
			}

			if err := unix.Mount(dev, m.path, m.fstype, 0, ""); err != nil {
				return nil, fmt.Errorf("failed to mount %s at %s: %w", dev, m.path, err)
			}
		}
	}

	return target, nil
}

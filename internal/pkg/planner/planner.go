// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package planner turns an installation target specification into a concrete,
// fully validated device/filesystem plan. No destructive step is ever part of
// a plan unless every precondition passed first.
package planner

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/ociboot/ociboot/internal/pkg/partition"
	"github.com/ociboot/ociboot/internal/pkg/tpm2"
)

// PreconditionError is a target specification failure detected before any
// destructive action.
type PreconditionError struct {
	msg string
}

func (e *PreconditionError) Error() string { return e.msg }

func preconditionf(format string, args ...any) error {
	return &PreconditionError{msg: fmt.Sprintf(format, args...)}
}

// IsPrecondition reports whether err is a precondition failure.
func IsPrecondition(err error) bool {
	var pe *PreconditionError

	return errors.As(err, &pe)
}

// PartitionSpec is one partition of a plan, in allocation order.
type PartitionSpec struct {
	Role  partition.Role
	Label string
	// Start is the byte offset of the partition on the device.
	Start uint64
	// Size in bytes; 0 means remaining free space.
	Size           uint64
	PartitionType  string
	FileSystemType partition.FileSystemType
	Encrypt        bool
}

// Plan is the concrete result of planning an installation target.
type Plan struct {
	Device string
	// Wipe indicates the existing partition table is destroyed first.
	Wipe bool
	// Partitions in fixed role order: ESP, boot, root. Empty for reuse modes.
	Partitions []PartitionSpec
	// ReusePath is set for to-existing-root/to-filesystem: the mount point to
	// install into instead of partitioning.
	ReusePath string

	RootFilesystem partition.FileSystemType
	Encrypt        bool
}

// RootPartition returns the root partition spec of a to-disk plan.
func (p *Plan) RootPartition() *PartitionSpec {
	for i := range p.Partitions {
		if p.Partitions[i].Role == partition.RoleRoot {
			return &p.Partitions[i]
		}
	}

	return nil
}

// Planner validates targets and produces plans.
type Planner struct {
	tpmPresent func() bool
	probe      func(string) (Device, error)
	fsType     func(string) (partition.FileSystemType, error)
}

// Option customizes the planner (used by tests to substitute probes).
type Option func(*Planner)

// WithTPMCheck overrides the TPM2 presence check.
func WithTPMCheck(check func() bool) Option {
	return func(p *Planner) { p.tpmPresent = check }
}

// WithDeviceProbe overrides the block device probe.
func WithDeviceProbe(probe func(string) (Device, error)) Option {
	return func(p *Planner) { p.probe = probe }
}

// WithFilesystemProbe overrides the mounted-filesystem type probe.
func WithFilesystemProbe(fsType func(string) (partition.FileSystemType, error)) Option {
	return func(p *Planner) { p.fsType = fsType }
}

// New creates a Planner.
func New(opts ...Option) *Planner {
	p := &Planner{
		tpmPresent: tpm2.Present,
		probe:      ProbeDevice,
		fsType:     mountedFilesystemType,
	}

	for _, o := range opts {
		o(p)
	}

	return p
}

// Plan validates the target and computes the installation plan.
//
// On any precondition violation an error is returned and no plan is produced.
func (p *Planner) Plan(target Target) (*Plan, error) {
	if target.Filesystem == "" {
		target.Filesystem = partition.FilesystemTypeXFS
	}

	if target.BlockSetup == "" {
		target.BlockSetup = BlockSetupDirect
	}

	switch target.Mode {
	case ModeDisk:
		return p.planDisk(target)
	case ModeExistingRoot, ModeFilesystem:
		return p.planReuse(target)
	default:
		return nil, preconditionf("unsupported install mode: %q", target.Mode)
	}
}

//nolint:gocyclo
func (p *Planner) planDisk(target Target) (*Plan, error) {
	if target.Device == "" {
		return nil, preconditionf("%s requires a target device", ModeDisk)
	}

	if target.BlockSetup == BlockSetupTPM2LUKS && !p.tpmPresent() {
		return nil, preconditionf("block setup %q requires a TPM2 device, none found", BlockSetupTPM2LUKS)
	}

	dev, err := p.probe(target.Device)
	if err != nil {
		return nil, preconditionf("cannot probe device %s: %v", target.Device, err)
	}

	wholeDisk, err := dev.IsWholeDisk()
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", target.Device, err)
	}

	if !wholeDisk {
		return nil, preconditionf("device %s is not a whole disk", target.Device)
	}

	if !target.Wipe {
		empty, err := dev.Empty()
		if err != nil {
			return nil, fmt.Errorf("failed to inspect %s: %w", target.Device, err)
		}

		if !empty {
			return nil, preconditionf("device %s is not empty; pass --wipe to destroy its contents", target.Device)
		}
	}

	size, err := dev.Size()
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", target.Device, err)
	}

	reserved := uint64(partition.EFISize + partition.BootSize + partition.GPTOverhead)

	if size < reserved+target.RootSize {
		return nil, preconditionf(
			"device %s is too small: %s available, need at least %s",
			target.Device, humanize.IBytes(size), humanize.IBytes(reserved+target.RootSize),
		)
	}

	encrypt := target.BlockSetup == BlockSetupTPM2LUKS

	esp := partition.SystemPartitionOptions(partition.RoleESP, target.Filesystem, 0, false)
	boot := partition.SystemPartitionOptions(partition.RoleBoot, target.Filesystem, 0, false)
	root := partition.SystemPartitionOptions(partition.RoleRoot, target.Filesystem, target.RootSize, encrypt)

	start := uint64(partition.MiB)

	plan := &Plan{
		Device:         target.Device,
		Wipe:           target.Wipe,
		RootFilesystem: target.Filesystem,
		Encrypt:        encrypt,
	}

	for _, opts := range []partition.Options{esp, boot, root} {
		plan.Partitions = append(plan.Partitions, PartitionSpec{
			Role:           opts.Role,
			Label:          opts.Label,
			Start:          start,
			Size:           opts.Size,
			PartitionType:  opts.PartitionType,
			FileSystemType: opts.FileSystemType,
			Encrypt:        opts.Encrypt,
		})

		start += opts.Size
	}

	return plan, nil
}

func (p *Planner) planReuse(target Target) (*Plan, error) {
	if target.Device != "" {
		return nil, preconditionf("%s does not take a device", target.Mode)
	}

	if target.RootSize != 0 {
		return nil, preconditionf("--root-size is only valid with %s", ModeDisk)
	}

	if target.BlockSetup == BlockSetupTPM2LUKS {
		return nil, preconditionf("block setup %q is only valid with %s", BlockSetupTPM2LUKS, ModeDisk)
	}

	if target.Wipe {
		return nil, preconditionf("--wipe is only valid with %s", ModeDisk)
	}

	if target.Path == "" {
		return nil, preconditionf("%s requires a target path", target.Mode)
	}

	fsType, err := p.fsType(target.Path)
	if err != nil {
		return nil, preconditionf("cannot inspect filesystem at %s: %v", target.Path, err)
	}

	if fsType != target.Filesystem {
		return nil, preconditionf(
			"filesystem at %s is %q, target specifies %q",
			target.Path, fsType, target.Filesystem,
		)
	}

	return &Plan{
		ReusePath:      target.Path,
		RootFilesystem: fsType,
	}, nil
}

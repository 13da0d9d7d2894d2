// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package bootloader selects and drives the bootloader installer for the
// target firmware mode.
package bootloader

import (
	"github.com/ociboot/ociboot/internal/pkg/bootloader/grub"
	"github.com/ociboot/ociboot/internal/pkg/bootloader/options"
	"github.com/ociboot/ociboot/internal/pkg/bootloader/sdboot"
)

// Bootloader describes a bootloader installer.
type Bootloader interface {
	// Install writes the boot entry for a finalized deployment root.
	Install(opts options.InstallOptions) (*options.InstallResult, error)
	// Revert restores the previous boot entry as default.
	//
	// The argument is the mounted boot partition (GRUB) or ESP (sd-boot).
	Revert(path string) error
}

// New returns the bootloader for the firmware the machine booted with, or
// a no-op installer when a generic image is requested.
func New(genericImage bool) Bootloader {
	if genericImage {
		return generic{}
	}

	if sdboot.IsUEFIBoot() {
		return sdboot.New()
	}

	return grub.New()
}

// RevertPath selects the directory the bootloader's Revert operates on:
// sd-boot keeps its loader entries on the ESP, GRUB on the boot partition.
func RevertPath(b Bootloader, bootPath, espPath string) string {
	if _, ok := b.(*sdboot.Bootloader); ok {
		return espPath
	}

	return bootPath
}

// generic skips firmware-specific writes entirely: the image is finalized
// by an external provisioning tool.
type generic struct{}

func (generic) Install(opts options.InstallOptions) (*options.InstallResult, error) {
	opts.PrintfOrDefault()("generic image: skipping bootloader installation")

	return &options.InstallResult{}, nil
}

func (generic) Revert(string) error {
	return nil
}

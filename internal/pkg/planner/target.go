// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package planner

import (
	"fmt"

	"github.com/ociboot/ociboot/internal/pkg/partition"
)

// Mode selects where the OS is installed.
type Mode string

// Install modes.
const (
	ModeDisk         Mode = "to-disk"
	ModeExistingRoot Mode = "to-existing-root"
	ModeFilesystem   Mode = "to-filesystem"
)

// BlockSetup selects the root block device strategy.
type BlockSetup string

// Block setups.
const (
	BlockSetupDirect   BlockSetup = "direct"
	BlockSetupTPM2LUKS BlockSetup = "tpm2-luks"
)

// ParseBlockSetup validates a user-supplied block setup.
func ParseBlockSetup(s string) (BlockSetup, error) {
	switch b := BlockSetup(s); b {
	case BlockSetupDirect, BlockSetupTPM2LUKS:
		return b, nil
	default:
		return "", fmt.Errorf("unsupported block setup: %q", s)
	}
}

// Target is the validated specification of where and how to install.
type Target struct {
	Mode Mode

	// Device is the whole block device to install to (to-disk only).
	Device string
	// Path is the existing root or mounted filesystem (reuse modes only).
	Path string

	BlockSetup BlockSetup
	Filesystem partition.FileSystemType

	// RootSize limits the root partition; 0 means remaining free space.
	RootSize uint64

	Wipe           bool
	GenericImage   bool
	DisableSELinux bool
}

// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package options provides shared options for the bootloader installers.
package options

import (
	"log"
	"os"
)

// DebugEnvVar enables bootloader debug tracing when set to a non-empty value.
const DebugEnvVar = "OCIBOOT_BOOTLOADER_DEBUG"

// Debug reports whether bootloader debug tracing is enabled.
func Debug() bool {
	return os.Getenv(DebugEnvVar) != ""
}

// InstallOptions is the input to bootloader installation.
type InstallOptions struct {
	// BootDisk is the disk the system boots from.
	BootDisk string
	// RootPath is the finalized root filesystem of the deployment.
	RootPath string
	// BootPath is where the boot partition is mounted.
	BootPath string
	// ESPPath is where the EFI system partition is mounted.
	ESPPath string

	// Cmdline is the fully merged kernel command line.
	Cmdline string
	// Version is the OS version label for the boot entry.
	Version string

	Printf func(format string, args ...any)
}

// PrintfOrDefault returns the configured Printf or log.Printf.
func (o InstallOptions) PrintfOrDefault() func(format string, args ...any) {
	if o.Printf != nil {
		return o.Printf
	}

	return log.Printf
}

// InstallResult is the result of the bootloader installation.
type InstallResult struct {
	// PreviousLabel is the boot entry replaced as default, if any.
	PreviousLabel string
}

// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package grub

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/siderolabs/go-cmd/pkg/cmd"

	"github.com/ociboot/ociboot/internal/pkg/bootloader/assets"
	"github.com/ociboot/ociboot/internal/pkg/bootloader/options"
)

// Bootloader installs GRUB for BIOS firmware.
type Bootloader struct{}

// New creates a GRUB bootloader installer.
func New() *Bootloader {
	return &Bootloader{}
}

// Install copies the boot assets into the boot partition, writes the grub
// configuration and runs grub-install against the boot disk.
func (b *Bootloader) Install(opts options.InstallOptions) (*options.InstallResult, error) {
	printf := opts.PrintfOrDefault()

	bootAssets, err := assets.Find(opts.RootPath)
	if err != nil {
		return nil, err
	}

	entryName := entryNameForVersion(opts.Version)
	entryDir := filepath.Join(opts.BootPath, entryName)

	if err := os.MkdirAll(entryDir, 0o755); err != nil {
		return nil, err
	}

	for _, asset := range []struct {
		src, dst string
	}{
		{bootAssets.KernelPath, filepath.Join(entryDir, "vmlinuz")},
		{bootAssets.InitramfsPath, filepath.Join(entryDir, "initramfs.img")},
	} {
		printf("copying %s to %s", asset.src, asset.dst)

		if err := copyFile(asset.src, asset.dst); err != nil {
			return nil, err
		}
	}

	conf := &Config{
		Default: MenuEntry{
			Name:    entryName,
			Kernel:  "/" + filepath.Join(entryName, "vmlinuz"),
			Initrd:  "/" + filepath.Join(entryName, "initramfs.img"),
			Cmdline: opts.Cmdline,
		},
	}

	result := &options.InstallResult{}

	// keep the currently installed version as the fallback entry
	if previous, err := b.read(opts.BootPath); err == nil {
		if previous.Default.Name != entryName {
			conf.Fallback = &previous.Default
			result.PreviousLabel = previous.Default.Name
		}
	}

	if err := conf.Write(opts.BootPath, printf); err != nil {
		return nil, err
	}

	args := []string{
		"--boot-directory=" + opts.BootPath,
		"--target=i386-pc",
	}

	if options.Debug() {
		args = append(args, "--verbose")
	}

	args = append(args, opts.BootDisk)

	printf("executing: grub-install %s", strings.Join(args, " "))

	if _, err := cmd.Run("grub-install", args...); err != nil {
		return nil, fmt.Errorf("failed to install grub: %w", err)
	}

	return result, nil
}

// Revert makes the fallback entry the default one.
func (b *Bootloader) Revert(bootPath string) error {
	conf, err := b.read(bootPath)
	if err != nil {
		return err
	}

	if conf.Fallback == nil {
		return errors.New("no previous grub entry to revert to")
	}

	conf.Default, conf.Fallback = *conf.Fallback, &conf.Default

	return conf.Write(bootPath, options.InstallOptions{}.PrintfOrDefault())
}

func (b *Bootloader) read(bootPath string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(bootPath, ConfigPath))
	if err != nil {
		return nil, err
	}

	return Decode(data)
}

func entryNameForVersion(version string) string {
	if version == "" {
		version = "unknown"
	}

	return "ociboot-" + version
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}

	defer in.Close() //nolint:errcheck

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close() //nolint:errcheck

		return err
	}

	if err := out.Sync(); err != nil {
		out.Close() //nolint:errcheck

		return err
	}

	return out.Close()
}

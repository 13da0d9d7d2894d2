// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package sdboot installs the systemd-boot bootloader for UEFI firmware.
package sdboot

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/foxboron/go-uefi/efi"
	"github.com/siderolabs/go-cmd/pkg/cmd"

	"github.com/ociboot/ociboot/internal/pkg/bootloader/assets"
	"github.com/ociboot/ociboot/internal/pkg/bootloader/options"
)

// ESP layout, relative to the EFI system partition root.
const (
	LoaderConfPath = "loader/loader.conf"
	EntriesDir     = "loader/entries"
)

// IsUEFIBoot returns true if the system is booted using UEFI.
func IsUEFIBoot() bool {
	_, err := os.Stat("/sys/firmware/efi")

	return err == nil
}

// Bootloader installs systemd-boot for UEFI firmware.
type Bootloader struct{}

// New creates a systemd-boot installer.
func New() *Bootloader {
	return &Bootloader{}
}

// Install copies the boot assets into the ESP, writes a loader entry for
// the deployment and registers systemd-boot with the firmware.
func (b *Bootloader) Install(opts options.InstallOptions) (*options.InstallResult, error) {
	printf := opts.PrintfOrDefault()

	if efi.GetSecureBoot() {
		printf("secure boot is enabled")
	}

	bootAssets, err := assets.Find(opts.RootPath)
	if err != nil {
		return nil, err
	}

	entryName := entryNameForVersion(opts.Version)
	entryDir := filepath.Join(opts.ESPPath, "ociboot", entryName)

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

	entry := fmt.Sprintf(
		"title ociboot %s\nversion %s\nlinux /ociboot/%s/vmlinuz\ninitrd /ociboot/%s/initramfs.img\noptions %s\n",
		opts.Version, opts.Version, entryName, entryName, opts.Cmdline,
	)

	if err := os.MkdirAll(filepath.Join(opts.ESPPath, EntriesDir), 0o755); err != nil {
		return nil, err
	}

	entryPath := filepath.Join(opts.ESPPath, EntriesDir, entryName+".conf")

	printf("writing %s", entryPath)

	if err := os.WriteFile(entryPath, []byte(entry), 0o644); err != nil {
		return nil, err
	}

	result := &options.InstallResult{}

	if previous, err := readDefaultEntry(opts.ESPPath); err == nil && previous != entryName {
		result.PreviousLabel = previous
	}

	if err := writeLoaderConf(opts.ESPPath, entryName); err != nil {
		return nil, err
	}

	args := []string{"install", "--esp-path=" + opts.ESPPath, "--no-variables"}

	printf("executing: bootctl %s", strings.Join(args, " "))

	if _, err := cmd.Run("bootctl", args...); err != nil {
		return nil, fmt.Errorf("failed to install systemd-boot: %w", err)
	}

	return result, nil
}

// Revert makes the most recent non-default loader entry the default one.
func (b *Bootloader) Revert(espPath string) error {
	current, err := readDefaultEntry(espPath)
	if err != nil {
		return err
	}

	entries, err := filepath.Glob(filepath.Join(espPath, EntriesDir, "*.conf"))
	if err != nil {
		return err
	}

	sort.Sort(sort.Reverse(sort.StringSlice(entries)))

	for _, path := range entries {
		name := strings.TrimSuffix(filepath.Base(path), ".conf")

		if name == current {
			continue
		}

		return writeLoaderConf(espPath, name)
	}

	return errors.New("no previous loader entry to revert to")
}

func writeLoaderConf(espPath, entryName string) error {
	conf := fmt.Sprintf("default %s.conf\ntimeout 5\n", entryName)

	if err := os.MkdirAll(filepath.Join(espPath, "loader"), 0o755); err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(espPath, LoaderConfPath), []byte(conf), 0o644)
}

func readDefaultEntry(espPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(espPath, LoaderConfPath))
	if err != nil {
		return "", err
	}

	for line := range strings.Lines(string(data)) {
		if entry, ok := strings.CutPrefix(strings.TrimSpace(line), "default "); ok {
			return strings.TrimSuffix(strings.TrimSpace(entry), ".conf"), nil
		}
	}

	return "", errors.New("no default entry in loader.conf")
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

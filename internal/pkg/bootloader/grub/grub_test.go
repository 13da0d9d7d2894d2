// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package grub_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ociboot/ociboot/internal/pkg/bootloader/grub"
)

func testConfig() *grub.Config {
	return &grub.Config{
		Default: grub.MenuEntry{
			Name:    "ociboot-2",
			Kernel:  "/ociboot-2/vmlinuz",
			Initrd:  "/ociboot-2/initramfs.img",
			Cmdline: "root=LABEL=ROOT console=ttyS0",
		},
		Fallback: &grub.MenuEntry{
			Name:    "ociboot-1",
			Kernel:  "/ociboot-1/vmlinuz",
			Initrd:  "/ociboot-1/initramfs.img",
			Cmdline: "root=LABEL=ROOT",
		},
	}
}

func TestEncodeDecode(t *testing.T) {
	conf := testConfig()

	data, err := conf.Encode()
	require.NoError(t, err)

	decoded, err := grub.Decode(data)
	require.NoError(t, err)

	assert.Equal(t, conf, decoded)
}

func TestEncodeDecodeNoFallback(t *testing.T) {
	conf := testConfig()
	conf.Fallback = nil

	data, err := conf.Encode()
	require.NoError(t, err)

	decoded, err := grub.Decode(data)
	require.NoError(t, err)

	assert.Equal(t, conf, decoded)
	assert.NotContains(t, string(data), "fallback")
}

func TestDecodeGarbage(t *testing.T) {
	_, err := grub.Decode([]byte("not a grub config"))
	assert.Error(t, err)
}

func TestRevert(t *testing.T) {
	bootPath := t.TempDir()

	require.NoError(t, testConfig().Write(bootPath, t.Logf))

	require.NoError(t, grub.New().Revert(bootPath))

	data, err := os.ReadFile(filepath.Join(bootPath, grub.ConfigPath))
	require.NoError(t, err)

	conf, err := grub.Decode(data)
	require.NoError(t, err)

	assert.Equal(t, "ociboot-1", conf.Default.Name)
	require.NotNil(t, conf.Fallback)
	assert.Equal(t, "ociboot-2", conf.Fallback.Name)
}

func TestRevertNoFallback(t *testing.T) {
	bootPath := t.TempDir()

	conf := testConfig()
	conf.Fallback = nil

	require.NoError(t, conf.Write(bootPath, t.Logf))

	assert.Error(t, grub.New().Revert(bootPath))
}

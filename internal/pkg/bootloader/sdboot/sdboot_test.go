// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sdboot_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ociboot/ociboot/internal/pkg/bootloader/sdboot"
)

func writeEntry(t *testing.T, espPath, name string) {
	t.Helper()

	dir := filepath.Join(espPath, sdboot.EntriesDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	entry := "title ociboot\nlinux /ociboot/" + name + "/vmlinuz\ninitrd /ociboot/" + name + "/initramfs.img\noptions root=LABEL=ROOT\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".conf"), []byte(entry), 0o644))
}

func writeLoaderConf(t *testing.T, espPath, defaultEntry string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Join(espPath, "loader"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(espPath, sdboot.LoaderConfPath),
		[]byte("default "+defaultEntry+".conf\ntimeout 5\n"),
		0o644,
	))
}

func readDefault(t *testing.T, espPath string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(espPath, sdboot.LoaderConfPath))
	require.NoError(t, err)

	conf := string(data)
	require.Contains(t, conf, "default ")

	start := len("default ")
	end := start

	for end < len(conf) && conf[end] != '\n' {
		end++
	}

	return conf[start:end]
}

func TestRevert(t *testing.T) {
	espPath := t.TempDir()

	writeEntry(t, espPath, "ociboot-1")
	writeEntry(t, espPath, "ociboot-2")
	writeLoaderConf(t, espPath, "ociboot-2")

	require.NoError(t, sdboot.New().Revert(espPath))

	assert.Equal(t, "ociboot-1.conf", readDefault(t, espPath))
}

func TestRevertNoPrevious(t *testing.T) {
	espPath := t.TempDir()

	writeEntry(t, espPath, "ociboot-1")
	writeLoaderConf(t, espPath, "ociboot-1")

	assert.Error(t, sdboot.New().Revert(espPath))
}

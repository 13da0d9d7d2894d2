// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package lint_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ociboot/ociboot/internal/pkg/lint"
)

func goodRoot(t *testing.T) string {
	t.Helper()

	root := t.TempDir()

	for _, dir := range []string{"etc", "usr/lib/modules/6.8.0/", "var", "boot"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}

	require.NoError(t, os.WriteFile(filepath.Join(root, "usr/lib/modules/6.8.0/vmlinuz"), []byte("kernel"), 0o644))
	require.NoError(t, os.Symlink("../run", filepath.Join(root, "var/run")))

	return root
}

func TestRunClean(t *testing.T) {
	findings, err := lint.Run(goodRoot(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestListSorted(t *testing.T) {
	lints := lint.List()
	require.NotEmpty(t, lints)

	for i := 1; i < len(lints); i++ {
		assert.Less(t, lints[i-1].Name, lints[i].Name)
	}
}

func TestVarRunDirectory(t *testing.T) {
	root := goodRoot(t)

	require.NoError(t, os.Remove(filepath.Join(root, "var/run")))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "var/run"), 0o755))

	findings, err := lint.Run(root, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.ErrorContains(t, err, "var-run")

	require.Len(t, findings, 1)
	assert.Equal(t, lint.SeverityFatal, findings[0].Severity)
}

func TestUsrEtc(t *testing.T) {
	root := goodRoot(t)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "usr/etc"), 0o755))

	_, err := lint.Run(root, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.ErrorContains(t, err, "usr-etc")
}

func TestKernelLayout(t *testing.T) {
	root := goodRoot(t)

	// a second kernel is fatal
	require.NoError(t, os.MkdirAll(filepath.Join(root, "usr/lib/modules/6.9.0"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "usr/lib/modules/6.9.0/vmlinuz"), []byte("kernel"), 0o644))

	_, err := lint.Run(root, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.ErrorContains(t, err, "multiple kernels")

	// a kernel directory without vmlinuz is fatal too
	require.NoError(t, os.Remove(filepath.Join(root, "usr/lib/modules/6.9.0/vmlinuz")))

	_, err = lint.Run(root, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.ErrorContains(t, err, "no vmlinuz")
}

func TestKargsFile(t *testing.T) {
	root := goodRoot(t)

	kargsPath := filepath.Join(root, "usr/lib/ociboot/kargs")
	require.NoError(t, os.MkdirAll(filepath.Dir(kargsPath), 0o755))

	// a well-formed file passes
	require.NoError(t, os.WriteFile(kargsPath, []byte("# defaults\nconsole=ttyS0,115200\nrw\n"), 0o644))

	findings, err := lint.Run(root, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Empty(t, findings)

	// multiple arguments on one line are fatal
	require.NoError(t, os.WriteFile(kargsPath, []byte("console=ttyS0,115200 rw\n"), 0o644))

	findings, err = lint.Run(root, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.ErrorContains(t, err, "kargs")
	assert.ErrorContains(t, err, "one argument per line")

	require.Len(t, findings, 1)
	assert.Equal(t, lint.SeverityFatal, findings[0].Severity)
}

func TestWarningsDoNotFail(t *testing.T) {
	root := goodRoot(t)

	require.NoError(t, os.WriteFile(filepath.Join(root, "boot/grub.cfg"), []byte("stale"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "var/log"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "var/log/build.log"), []byte("log"), 0o644))

	findings, err := lint.Run(root, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.Len(t, findings, 2)

	for _, f := range findings {
		assert.Equal(t, lint.SeverityWarning, f.Severity)
	}
}

func TestMultipleFatalsAggregate(t *testing.T) {
	root := goodRoot(t)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "usr/etc"), 0o755))
	require.NoError(t, os.Remove(filepath.Join(root, "var/run")))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "var/run"), 0o755))

	findings, err := lint.Run(root, zaptest.NewLogger(t))
	require.Error(t, err)

	assert.ErrorContains(t, err, "usr-etc")
	assert.ErrorContains(t, err, "var-run")
	assert.Len(t, findings, 2)
}

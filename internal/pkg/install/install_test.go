// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package install_test

import (
	"context"
	"errors"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ociboot/ociboot/internal/pkg/bootloader"
	bootloaderoptions "github.com/ociboot/ociboot/internal/pkg/bootloader/options"
	"github.com/ociboot/ociboot/internal/pkg/deployment"
	"github.com/ociboot/ociboot/internal/pkg/install"
	"github.com/ociboot/ociboot/internal/pkg/partition"
	"github.com/ociboot/ociboot/internal/pkg/planner"
	"github.com/ociboot/ociboot/internal/pkg/store"
	"github.com/ociboot/ociboot/pkg/imageref"
	"github.com/ociboot/ociboot/pkg/progress"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testDigest = digest.FromString("os image")

type fakePuller struct {
	calls *[]string

	checkErr error
	pullErr  error

	pulledRef imageref.ImageReference
	onPull    func()
}

func (p *fakePuller) Check(_ context.Context, _ imageref.ImageReference) (digest.Digest, error) {
	*p.calls = append(*p.calls, "check")

	return testDigest, p.checkErr
}

func (p *fakePuller) Pull(_ context.Context, ref imageref.ImageReference, _ *progress.Emitter) (store.Image, error) {
	*p.calls = append(*p.calls, "pull")

	p.pulledRef = ref

	if p.onPull != nil {
		p.onPull()
	}

	return store.Image{
		Ref:     ref.String(),
		Digest:  testDigest,
		Version: "41.3",
	}, p.pullErr
}

type fakeDeployer struct {
	calls *[]string

	dest string
	err  error
}

func (d *fakeDeployer) Checkout(_ context.Context, _ store.Image, dest string, _ *progress.Emitter, _ *zap.Logger) error {
	*d.calls = append(*d.calls, "deploy")

	d.dest = dest

	return d.err
}

type fakeDisk struct {
	calls *[]string

	target *install.DiskTarget
	err    error
}

func (d *fakeDisk) Execute(_ *planner.Plan, _ func(string, ...any)) (*install.DiskTarget, error) {
	*d.calls = append(*d.calls, "partition")

	return d.target, d.err
}

type fakeBootloader struct {
	calls *[]string

	options bootloaderoptions.InstallOptions
	err     error
}

func (b *fakeBootloader) Install(options bootloaderoptions.InstallOptions) (*bootloaderoptions.InstallResult, error) {
	*b.calls = append(*b.calls, "bootloader")

	b.options = options

	return &bootloaderoptions.InstallResult{}, b.err
}

func (b *fakeBootloader) Revert(string) error { return nil }

type recordingReporter struct {
	events []progress.Event
}

func (r *recordingReporter) Report(e progress.Event) {
	r.events = append(r.events, e)
}

type testRig struct {
	calls    []string
	puller   *fakePuller
	deployer *fakeDeployer
	disk     *fakeDisk
	boot     *fakeBootloader
	reporter *recordingReporter
	manager  *deployment.Manager
	stateDir string
}

func newRig(t *testing.T) *testRig {
	t.Helper()

	rig := &testRig{stateDir: t.TempDir()}

	rig.puller = &fakePuller{calls: &rig.calls}
	rig.deployer = &fakeDeployer{calls: &rig.calls}
	rig.disk = &fakeDisk{calls: &rig.calls, target: &install.DiskTarget{
		RootPath: t.TempDir(),
		BootPath: t.TempDir(),
		ESPPath:  t.TempDir(),
	}}
	rig.boot = &fakeBootloader{calls: &rig.calls}
	rig.reporter = &recordingReporter{}
	rig.manager = deployment.NewManager(rig.stateDir, zaptest.NewLogger(t))

	return rig
}

func (rig *testRig) installer(t *testing.T, target planner.Target, options install.Options) *install.Installer {
	t.Helper()

	options.Target = target
	options.StateDir = rig.stateDir
	options.Reporter = rig.reporter
	options.Logger = zaptest.NewLogger(t)

	if options.Ref == (imageref.ImageReference{}) {
		ref, err := imageref.Parse("quay.io/example/os:41")
		require.NoError(t, err)

		options.Ref = ref
	}

	p := planner.New(
		planner.WithDeviceProbe(func(path string) (planner.Device, error) {
			return wholeDisk{path: path}, nil
		}),
		planner.WithFilesystemProbe(func(string) (partition.FileSystemType, error) {
			return partition.FilesystemTypeXFS, nil
		}),
		planner.WithTPMCheck(func() bool { return true }),
	)

	return install.NewInstaller(options,
		install.WithPlanner(p),
		install.WithPuller(rig.puller),
		install.WithDeployer(rig.deployer),
		install.WithDiskExecutor(rig.disk),
		install.WithBootloader(rig.boot),
		install.WithManager(rig.manager),
	)
}

type wholeDisk struct {
	path string
}

func (d wholeDisk) Path() string              { return d.path }
func (d wholeDisk) Size() (uint64, error)     { return 64 << 30, nil }
func (d wholeDisk) IsWholeDisk() (bool, error) { return true, nil }
func (d wholeDisk) Empty() (bool, error)      { return true, nil }

func TestRunToFilesystem(t *testing.T) {
	rig := newRig(t)

	i := rig.installer(t, planner.Target{
		Mode: planner.ModeFilesystem,
		Path: t.TempDir(),
	}, install.Options{
		KernelArgs: []string{"console=ttyS0,115200"},
	})

	require.NoError(t, i.Run(t.Context()))

	// reuse modes never touch the disk executor
	assert.Equal(t, []string{"check", "pull", "deploy", "bootloader"}, rig.calls)

	require.NotEmpty(t, rig.reporter.events)
	assert.IsType(t, progress.Start{}, rig.reporter.events[0])

	assert.Contains(t, rig.boot.options.Cmdline, "console=ttyS0,115200")

	snapshot, err := rig.manager.Status()
	require.NoError(t, err)
	require.NotNil(t, snapshot.Booted)

	// the committed reference is pinned to the checked digest
	d, ok := snapshot.Booted.Image.Digest()
	require.True(t, ok)
	assert.Equal(t, testDigest, d)
	assert.Equal(t, []string{"console=ttyS0,115200"}, snapshot.Booted.KernelArgs)
}

func TestRunToDisk(t *testing.T) {
	rig := newRig(t)
	rig.disk.target.LUKSUUID = "3b5e0a2f-9c51-4d8e-b1c3-0d2f4a6b8c9e"

	i := rig.installer(t, planner.Target{
		Mode:       planner.ModeDisk,
		Device:     "/dev/sda",
		BlockSetup: planner.BlockSetupTPM2LUKS,
		Wipe:       true,
	}, install.Options{})

	require.NoError(t, i.Run(t.Context()))

	assert.Equal(t, []string{"check", "pull", "partition", "deploy", "bootloader"}, rig.calls)

	assert.Equal(t, "/dev/sda", rig.boot.options.BootDisk)
	assert.Contains(t, rig.boot.options.Cmdline, "rd.luks.uuid=3b5e0a2f-9c51-4d8e-b1c3-0d2f4a6b8c9e")
	assert.Equal(t, rig.disk.target.RootPath, rig.deployer.dest)
}

func TestRunSkipFetchCheck(t *testing.T) {
	rig := newRig(t)

	i := rig.installer(t, planner.Target{
		Mode: planner.ModeFilesystem,
		Path: t.TempDir(),
	}, install.Options{
		SkipFetchCheck: true,
	})

	require.NoError(t, i.Run(t.Context()))

	assert.NotContains(t, rig.calls, "check")

	snapshot, err := rig.manager.Status()
	require.NoError(t, err)
	require.NotNil(t, snapshot.Booted)

	// without the fetch check the reference stays unpinned
	_, ok := snapshot.Booted.Image.Digest()
	assert.False(t, ok)
}

func TestRunValidateFails(t *testing.T) {
	rig := newRig(t)

	i := rig.installer(t, planner.Target{
		Mode: planner.ModeDisk,
	}, install.Options{})

	err := i.Run(t.Context())
	require.Error(t, err)

	var stepErr *install.StepError

	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, install.StepValidate, stepErr.Step)
	assert.False(t, stepErr.Destructive)
	assert.True(t, planner.IsPrecondition(err))

	assert.Empty(t, rig.calls)
}

func TestRunFetchCheckFails(t *testing.T) {
	rig := newRig(t)
	rig.puller.checkErr = errors.New("manifest fetch failed")

	i := rig.installer(t, planner.Target{
		Mode: planner.ModeFilesystem,
		Path: t.TempDir(),
	}, install.Options{})

	err := i.Run(t.Context())

	var stepErr *install.StepError

	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, install.StepFetchCheck, stepErr.Step)
	assert.False(t, stepErr.Destructive)

	assert.Equal(t, []string{"check"}, rig.calls)
}

func TestRunCancelledDuringPull(t *testing.T) {
	rig := newRig(t)

	ctx, cancel := context.WithCancel(t.Context())
	rig.puller.onPull = cancel

	i := rig.installer(t, planner.Target{
		Mode:   planner.ModeDisk,
		Device: "/dev/sda",
		Wipe:   true,
	}, install.Options{})

	err := i.Run(ctx)

	var stepErr *install.StepError

	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, install.StepPull, stepErr.Step)
	assert.False(t, stepErr.Destructive)
	assert.ErrorIs(t, err, context.Canceled)

	// cancellation during pull must stop before any destructive step
	assert.NotContains(t, rig.calls, "partition")
}

func TestRunPartitionFails(t *testing.T) {
	rig := newRig(t)
	rig.disk.err = errors.New("gpt write failed")
	rig.disk.target = nil

	i := rig.installer(t, planner.Target{
		Mode:   planner.ModeDisk,
		Device: "/dev/sda",
		Wipe:   true,
	}, install.Options{})

	err := i.Run(t.Context())

	var stepErr *install.StepError

	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, install.StepPartition, stepErr.Step)
	assert.True(t, stepErr.Destructive)
}

func TestRunDeployFails(t *testing.T) {
	rig := newRig(t)
	rig.deployer.err = errors.New("layer unpack failed")

	i := rig.installer(t, planner.Target{
		Mode:   planner.ModeDisk,
		Device: "/dev/sda",
		Wipe:   true,
	}, install.Options{})

	err := i.Run(t.Context())

	var stepErr *install.StepError

	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, install.StepDeploy, stepErr.Step)
	assert.True(t, stepErr.Destructive)
	assert.ErrorContains(t, err, "destructive changes were made")
}

func TestRunBootloaderFails(t *testing.T) {
	rig := newRig(t)
	rig.boot.err = errors.New("grub-install failed")

	i := rig.installer(t, planner.Target{
		Mode: planner.ModeFilesystem,
		Path: t.TempDir(),
	}, install.Options{})

	err := i.Run(t.Context())

	var stepErr *install.StepError

	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, install.StepBootloader, stepErr.Step)
	assert.True(t, stepErr.Destructive)

	// nothing was committed
	snapshot, merr := rig.manager.Status()
	require.NoError(t, merr)
	assert.Nil(t, snapshot.Booted)
}

func TestUpgradeStagesNext(t *testing.T) {
	rig := newRig(t)

	ref, err := imageref.Parse("quay.io/example/os:41")
	require.NoError(t, err)

	_, err = rig.manager.CommitInstall(deployment.Deployment{
		Image:  ref.WithDigest(digest.FromString("old image")),
		Digest: digest.FromString("old image"),
	})
	require.NoError(t, err)

	u := install.NewUpgrader(install.UpgradeOptions{
		StateDir: rig.stateDir,
		BootPath: t.TempDir(),
		ESPPath:  t.TempDir(),
		Logger:   zaptest.NewLogger(t),
		Reporter: rig.reporter,
	},
		install.WithUpgradePuller(rig.puller),
		install.WithUpgradeDeployer(rig.deployer),
		install.WithUpgradeBootloader(rig.boot),
	)

	updated, err := u.Check(t.Context())
	require.NoError(t, err)
	assert.True(t, updated)

	require.NoError(t, u.Run(t.Context()))

	// the pulled reference is pinned to the new digest
	d, ok := rig.puller.pulledRef.Digest()
	require.True(t, ok)
	assert.Equal(t, testDigest, d)

	snapshot, err := rig.manager.Status()
	require.NoError(t, err)
	require.NotNil(t, snapshot.Staged)
	assert.Equal(t, testDigest, snapshot.Staged.Digest)
}

func TestUpgradeUpToDate(t *testing.T) {
	rig := newRig(t)

	ref, err := imageref.Parse("quay.io/example/os:41")
	require.NoError(t, err)

	_, err = rig.manager.CommitInstall(deployment.Deployment{
		Image:  ref.WithDigest(testDigest),
		Digest: testDigest,
	})
	require.NoError(t, err)

	u := install.NewUpgrader(install.UpgradeOptions{
		StateDir: rig.stateDir,
		Logger:   zaptest.NewLogger(t),
	},
		install.WithUpgradePuller(rig.puller),
		install.WithUpgradeDeployer(rig.deployer),
		install.WithUpgradeBootloader(rig.boot),
	)

	updated, err := u.Check(t.Context())
	require.NoError(t, err)
	assert.False(t, updated)

	require.ErrorIs(t, u.Run(t.Context()), install.ErrUpToDate)
	assert.NotContains(t, rig.calls, "pull")
}

func TestUpgradeWithoutInstall(t *testing.T) {
	rig := newRig(t)

	u := install.NewUpgrader(install.UpgradeOptions{
		StateDir: rig.stateDir,
		Logger:   zaptest.NewLogger(t),
	},
		install.WithUpgradePuller(rig.puller),
	)

	_, err := u.Check(t.Context())
	assert.ErrorContains(t, err, "no booted deployment")
}

var _ bootloader.Bootloader = (*fakeBootloader)(nil)

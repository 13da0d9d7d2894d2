// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package install orchestrates the full installation workflow: validate,
// fetch, partition, deploy, bootloader, commit — in strict order, each step
// starting only after the previous one succeeded.
package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alexflint/go-filemutex"
	"github.com/opencontainers/go-digest"
	"go.uber.org/zap"

	"github.com/ociboot/ociboot/internal/pkg/bootloader"
	"github.com/ociboot/ociboot/internal/pkg/bootloader/kargs"
	bootloaderoptions "github.com/ociboot/ociboot/internal/pkg/bootloader/options"
	"github.com/ociboot/ociboot/internal/pkg/deployment"
	"github.com/ociboot/ociboot/internal/pkg/planner"
	"github.com/ociboot/ociboot/internal/pkg/store"
	"github.com/ociboot/ociboot/pkg/imageref"
	"github.com/ociboot/ociboot/pkg/progress"
)

// InstallLockFile serializes installs against the same deployment store.
const InstallLockFile = "install.lock"

// TargetStateDir is the deployment state location relative to the installed
// root.
const TargetStateDir = "var/lib/ociboot"

// Puller fetches the OS image; the production implementation is
// store.Puller.
type Puller interface {
	Check(ctx context.Context, ref imageref.ImageReference) (digest.Digest, error)
	Pull(ctx context.Context, ref imageref.ImageReference, emitter *progress.Emitter) (store.Image, error)
}

// Deployer materializes a stored image as a root tree; the production
// implementation is store.DirStore.
type Deployer interface {
	Checkout(ctx context.Context, img store.Image, dest string, emitter *progress.Emitter, logger *zap.Logger) error
}

// DiskTarget is the finalized target produced by executing a disk plan.
type DiskTarget struct {
	RootPath string
	BootPath string
	ESPPath  string

	// LUKSUUID is the UUID of the encrypted root container, if any.
	LUKSUUID string
}

// DiskExecutor runs the destructive part of a disk plan: wipe, partition,
// encrypt, format, mount.
type DiskExecutor interface {
	Execute(plan *planner.Plan, printf func(string, ...any)) (*DiskTarget, error)
}

// Options configures an installation run.
type Options struct {
	Target         planner.Target
	Ref            imageref.ImageReference
	KernelArgs     []string
	SkipFetchCheck bool

	// StateDir is the deployment store directory on the target root.
	StateDir string

	Reporter progress.Reporter
	Logger   *zap.Logger
	Printf   func(string, ...any)
}

// Installer wires the workflow collaborators together.
type Installer struct {
	options Options

	planner    *planner.Planner
	puller     Puller
	deployer   Deployer
	disk       DiskExecutor
	bootloader bootloader.Bootloader

	manager      *deployment.Manager
	managerFixed bool
}

// Option customizes the installer, mostly for tests substituting
// collaborators.
type Option func(*Installer)

// WithPlanner overrides the target planner.
func WithPlanner(p *planner.Planner) Option {
	return func(i *Installer) { i.planner = p }
}

// WithPuller overrides the image puller.
func WithPuller(p Puller) Option {
	return func(i *Installer) { i.puller = p }
}

// WithDeployer overrides the tree deployer.
func WithDeployer(d Deployer) Option {
	return func(i *Installer) { i.deployer = d }
}

// WithDiskExecutor overrides the destructive disk executor.
func WithDiskExecutor(d DiskExecutor) Option {
	return func(i *Installer) { i.disk = d }
}

// WithBootloader overrides the bootloader installer.
func WithBootloader(b bootloader.Bootloader) Option {
	return func(i *Installer) { i.bootloader = b }
}

// WithManager overrides the deployment manager for all install modes.
func WithManager(m *deployment.Manager) Option {
	return func(i *Installer) {
		i.manager = m
		i.managerFixed = true
	}
}

// NewInstaller creates an installer with production collaborators, then
// applies the options.
func NewInstaller(options Options, opts ...Option) *Installer {
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}

	if options.Printf == nil {
		options.Printf = func(format string, args ...any) {
			options.Logger.Sugar().Infof(format, args...)
		}
	}

	if options.Reporter == nil {
		options.Reporter = progress.Discard
	}

	contentStore := store.NewDirStore(filepath.Join(options.StateDir, "store"))

	i := &Installer{
		options:    options,
		planner:    planner.New(),
		puller:     store.NewPuller(contentStore, options.Logger),
		deployer:   contentStore,
		disk:       newDiskExecutor(options.Logger),
		bootloader: bootloader.New(options.Target.GenericImage),
		manager:    deployment.NewManager(options.StateDir, options.Logger),
	}

	for _, o := range opts {
		o(i)
	}

	return i
}

// Run executes the installation workflow.
//
// Cancellation is honored only up to and including the pull step; once
// destructive disk work begins the workflow runs to a safe stopping point.
//
//nolint:gocyclo
func (i *Installer) Run(ctx context.Context) error {
	plan, err := i.planner.Plan(i.options.Target)
	if err != nil {
		return stepErr(StepValidate, false, err)
	}

	emitter := progress.NewEmitter(i.options.Reporter)
	emitter.Start()

	ref := i.options.Ref

	if !i.options.SkipFetchCheck {
		d, err := i.puller.Check(ctx, ref)
		if err != nil {
			return stepErr(StepFetchCheck, false, err)
		}

		ref = ref.WithDigest(d)
	}

	img, err := i.puller.Pull(ctx, ref, emitter)
	if err != nil {
		return stepErr(StepPull, false, err)
	}

	if err := ctx.Err(); err != nil {
		return stepErr(StepPull, false, err)
	}

	// exclusive lock before any destructive step; cancellation is refused
	// from here on
	unlock, err := i.lock()
	if err != nil {
		return stepErr(StepPartition, false, err)
	}

	defer unlock()

	ctx = context.WithoutCancel(ctx)

	target, err := i.finalizeTarget(plan)
	if err != nil {
		return stepErr(StepPartition, plan.ReusePath == "", err)
	}

	if err := i.deployer.Checkout(ctx, img, target.RootPath, emitter, i.options.Logger); err != nil {
		return stepErr(StepDeploy, true, err)
	}

	cmdline, err := i.cmdline(target)
	if err != nil {
		return stepErr(StepBootloader, true, err)
	}

	if i.options.Target.DisableSELinux {
		if err := bootloader.DisableSELinux(target.RootPath); err != nil {
			return stepErr(StepBootloader, true, err)
		}
	}

	if _, err := i.bootloader.Install(bootloaderoptions.InstallOptions{
		BootDisk: plan.Device,
		RootPath: target.RootPath,
		BootPath: target.BootPath,
		ESPPath:  target.ESPPath,
		Cmdline:  cmdline,
		Version:  img.Version,
		Printf:   i.options.Printf,
	}); err != nil {
		return stepErr(StepBootloader, true, err)
	}

	manager := i.manager

	// a disk install commits its deployment state onto the freshly mounted
	// target root, so the installed system finds it on first boot
	if plan.ReusePath == "" && !i.managerFixed {
		manager = deployment.NewManager(filepath.Join(target.RootPath, TargetStateDir), i.options.Logger)
	}

	if _, err := manager.CommitInstall(deployment.Deployment{
		Image:      ref,
		Digest:     img.Digest,
		KernelArgs: i.options.KernelArgs,
	}); err != nil {
		return stepErr(StepCommit, true, err)
	}

	i.options.Printf("installation of %s complete", ref)

	return nil
}

// finalizeTarget executes the destructive plan for disk installs, or
// resolves the reuse paths for filesystem installs.
func (i *Installer) finalizeTarget(plan *planner.Plan) (*DiskTarget, error) {
	if plan.ReusePath != "" {
		target := &DiskTarget{
			RootPath: plan.ReusePath,
			BootPath: filepath.Join(plan.ReusePath, "boot"),
			ESPPath:  filepath.Join(plan.ReusePath, "boot/efi"),
		}

		for _, dir := range []string{target.BootPath, target.ESPPath} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}

		return target, nil
	}

	return i.disk.Execute(plan, i.options.Printf)
}

func (i *Installer) cmdline(target *DiskTarget) (string, error) {
	defaults, err := kargs.Defaults(target.RootPath)
	if err != nil {
		return "", err
	}

	overrides := i.options.KernelArgs

	if target.LUKSUUID != "" {
		// the initramfs needs to know the root is a LUKS container
		overrides = append([]string{"rd.luks.uuid=" + target.LUKSUUID}, overrides...)
	}

	return kargs.Merge(defaults, overrides)
}

func (i *Installer) lock() (func(), error) {
	if err := os.MkdirAll(i.options.StateDir, 0o755); err != nil {
		return nil, err
	}

	mu, err := filemutex.New(filepath.Join(i.options.StateDir, InstallLockFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create install lock: %w", err)
	}

	if err := mu.Lock(); err != nil {
		return nil, fmt.Errorf("failed to acquire install lock: %w", err)
	}

	return func() {
		mu.Unlock() //nolint:errcheck
	}, nil
}

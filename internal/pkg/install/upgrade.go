// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package install

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ociboot/ociboot/internal/pkg/bootloader"
	"github.com/ociboot/ociboot/internal/pkg/bootloader/kargs"
	bootloaderoptions "github.com/ociboot/ociboot/internal/pkg/bootloader/options"
	"github.com/ociboot/ociboot/internal/pkg/deployment"
	"github.com/ociboot/ociboot/internal/pkg/store"
	"github.com/ociboot/ociboot/pkg/progress"
)

// ErrUpToDate is returned by Upgrade when the tracked reference already
// points at the booted digest.
var ErrUpToDate = errors.New("already up to date")

// UpgradeOptions configures staging the next deployment on a running
// system.
type UpgradeOptions struct {
	// StateDir is the deployment store directory.
	StateDir string
	// BootPath and ESPPath are the mounted boot filesystems of the running
	// system.
	BootPath string
	ESPPath  string

	// Replace allows replacing an already staged deployment.
	Replace bool
	// GenericImage skips the bootloader entry for the staged deployment.
	GenericImage bool

	Reporter progress.Reporter
	Logger   *zap.Logger
	Printf   func(string, ...any)
}

// Upgrader stages the next deployment from the booted deployment's image
// reference.
type Upgrader struct {
	options UpgradeOptions

	puller     Puller
	deployer   Deployer
	bootloader bootloader.Bootloader
	manager    *deployment.Manager
}

// UpgradeOption customizes the upgrader.
type UpgradeOption func(*Upgrader)

// WithUpgradePuller overrides the image puller.
func WithUpgradePuller(p Puller) UpgradeOption {
	return func(u *Upgrader) { u.puller = p }
}

// WithUpgradeDeployer overrides the tree deployer.
func WithUpgradeDeployer(d Deployer) UpgradeOption {
	return func(u *Upgrader) { u.deployer = d }
}

// WithUpgradeBootloader overrides the bootloader installer.
func WithUpgradeBootloader(b bootloader.Bootloader) UpgradeOption {
	return func(u *Upgrader) { u.bootloader = b }
}

// NewUpgrader creates an upgrader with production collaborators, then
// applies the options.
func NewUpgrader(options UpgradeOptions, opts ...UpgradeOption) *Upgrader {
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

	u := &Upgrader{
		options:    options,
		puller:     store.NewPuller(contentStore, options.Logger),
		deployer:   contentStore,
		bootloader: bootloader.New(options.GenericImage),
		manager:    deployment.NewManager(options.StateDir, options.Logger),
	}

	for _, o := range opts {
		o(u)
	}

	return u
}

// Check resolves the tracked reference and reports whether an update is
// available without staging anything.
func (u *Upgrader) Check(ctx context.Context) (bool, error) {
	booted, err := u.booted()
	if err != nil {
		return false, err
	}

	d, err := u.puller.Check(ctx, booted.Image.WithoutDigest())
	if err != nil {
		return false, err
	}

	return d != booted.Digest, nil
}

// Run pulls the current target of the tracked reference, checks the tree
// out next to the booted deployment and stages it for the next boot.
func (u *Upgrader) Run(ctx context.Context) error {
	booted, err := u.booted()
	if err != nil {
		return err
	}

	ref := booted.Image.WithoutDigest()

	d, err := u.puller.Check(ctx, ref)
	if err != nil {
		return err
	}

	if d == booted.Digest {
		return ErrUpToDate
	}

	ref = ref.WithDigest(d)

	emitter := progress.NewEmitter(u.options.Reporter)
	emitter.Start()

	img, err := u.puller.Pull(ctx, ref, emitter)
	if err != nil {
		return err
	}

	dest := filepath.Join(u.options.StateDir, "deployments", d.Encoded())

	if err := u.deployer.Checkout(ctx, img, dest, emitter, u.options.Logger); err != nil {
		return err
	}

	defaults, err := kargs.Defaults(dest)
	if err != nil {
		return err
	}

	cmdline, err := kargs.Merge(defaults, booted.KernelArgs)
	if err != nil {
		return err
	}

	if _, err := u.bootloader.Install(bootloaderoptions.InstallOptions{
		RootPath: dest,
		BootPath: u.options.BootPath,
		ESPPath:  u.options.ESPPath,
		Cmdline:  cmdline,
		Version:  img.Version,
		Printf:   u.options.Printf,
	}); err != nil {
		return err
	}

	serial, err := u.manager.Stage(deployment.Deployment{
		Image:      ref,
		Digest:     img.Digest,
		KernelArgs: booted.KernelArgs,
	}, u.options.Replace)
	if err != nil {
		return err
	}

	u.options.Printf("staged deployment %d (%s) for the next boot", serial, ref)

	return nil
}

func (u *Upgrader) booted() (*deployment.Deployment, error) {
	snapshot, err := u.manager.Status()
	if err != nil {
		return nil, err
	}

	if snapshot.Booted == nil {
		return nil, fmt.Errorf("no booted deployment recorded; install the system first")
	}

	return snapshot.Booted, nil
}

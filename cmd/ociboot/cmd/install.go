// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ociboot/ociboot/internal/pkg/install"
	"github.com/ociboot/ociboot/internal/pkg/partition"
	"github.com/ociboot/ociboot/internal/pkg/planner"
	"github.com/ociboot/ociboot/pkg/imageref"
	"github.com/ociboot/ociboot/pkg/progress"
)

var installCmdArgs struct {
	targetTransport    string
	targetImgref       string
	targetNoSigVerify  bool
	targetOSTreeRemote string

	wipe       bool
	blockSetup string
	filesystem string
	rootSize   string

	kernelArgs     []string
	skipFetchCheck bool
	disableSELinux bool
	genericImage   bool
	progressJSON   bool

	profile string
}

// installCmd groups the install modes.
var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the OS image to a target",
	Long:  ``,
}

var installToDiskCmd = &cobra.Command{
	Use:   "to-disk DEVICE",
	Short: "Install to a whole block device, creating the partition table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstall(cmd, planner.Target{
			Mode:   planner.ModeDisk,
			Device: args[0],
		})
	},
}

var installToExistingRootCmd = &cobra.Command{
	Use:   "to-existing-root [PATH]",
	Short: "Install over an existing root filesystem",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/"
		if len(args) > 0 {
			path = args[0]
		}

		return runInstall(cmd, planner.Target{
			Mode: planner.ModeExistingRoot,
			Path: path,
		})
	},
}

var installToFilesystemCmd = &cobra.Command{
	Use:   "to-filesystem PATH",
	Short: "Install to an already mounted filesystem",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstall(cmd, planner.Target{
			Mode: planner.ModeFilesystem,
			Path: args[0],
		})
	},
}

func init() {
	flags := installCmd.PersistentFlags()

	flags.StringVar(&installCmdArgs.targetTransport, "target-transport", string(imageref.DefaultTransport), "image transport (registry, oci, oci-archive)")
	flags.StringVar(&installCmdArgs.targetImgref, "target-imgref", "", "image reference to install")
	// accepted for compatibility with existing callers: the registry
	// transport performs no signature verification, and no ostree remote
	// is involved in any transport
	flags.BoolVar(&installCmdArgs.targetNoSigVerify, "target-no-signature-verification", false, "accepted for compatibility; this transport performs no signature verification")
	flags.StringVar(&installCmdArgs.targetOSTreeRemote, "target-ostree-remote", "", "accepted for compatibility; has no effect")
	flags.MarkHidden("target-ostree-remote") //nolint:errcheck
	flags.BoolVar(&installCmdArgs.wipe, "wipe", false, "destroy existing contents of the target device")
	flags.StringVar(&installCmdArgs.blockSetup, "block-setup", string(planner.BlockSetupDirect), "root block device setup (direct, tpm2-luks)")
	flags.StringVar(&installCmdArgs.filesystem, "filesystem", string(partition.FilesystemTypeXFS), "root filesystem type (xfs, ext4, btrfs)")
	flags.StringVar(&installCmdArgs.rootSize, "root-size", "", "root partition size (e.g. 20GiB); remaining space if unset")
	flags.StringArrayVar(&installCmdArgs.kernelArgs, "karg", nil, "additional kernel argument (repeatable)")
	flags.BoolVar(&installCmdArgs.skipFetchCheck, "skip-fetch-check", false, "skip the image manifest fetch check")
	flags.BoolVar(&installCmdArgs.disableSELinux, "disable-selinux", false, "disable SELinux enforcement on the installed system")
	flags.BoolVar(&installCmdArgs.genericImage, "generic-image", false, "skip bootloader installation for generic disk images")
	flags.BoolVar(&installCmdArgs.progressJSON, "progress-json", false, "emit machine-readable progress as NDJSON on stdout")
	flags.StringVar(&installCmdArgs.profile, "profile", "", "YAML install profile; explicit flags override its values")

	installCmd.AddCommand(installToDiskCmd)
	installCmd.AddCommand(installToExistingRootCmd)
	installCmd.AddCommand(installToFilesystemCmd)

	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, target planner.Target) error {
	if installCmdArgs.profile != "" {
		if err := applyProfile(cmd, installCmdArgs.profile); err != nil {
			return err
		}
	}

	if installCmdArgs.targetImgref == "" {
		return fmt.Errorf("--target-imgref is required")
	}

	ref, err := imageref.New(imageref.Transport(installCmdArgs.targetTransport), installCmdArgs.targetImgref)
	if err != nil {
		return err
	}

	blockSetup, err := planner.ParseBlockSetup(installCmdArgs.blockSetup)
	if err != nil {
		return err
	}

	filesystem, err := partition.ParseFileSystemType(installCmdArgs.filesystem)
	if err != nil {
		return err
	}

	var rootSize uint64

	if installCmdArgs.rootSize != "" {
		rootSize, err = humanize.ParseBytes(installCmdArgs.rootSize)
		if err != nil {
			return fmt.Errorf("invalid --root-size: %w", err)
		}
	}

	target.Wipe = installCmdArgs.wipe
	target.BlockSetup = blockSetup
	target.Filesystem = filesystem
	target.RootSize = rootSize
	target.GenericImage = installCmdArgs.genericImage
	target.DisableSELinux = installCmdArgs.disableSELinux

	stateDir := rootCmdArgs.stateDir

	// a fresh install keeps its state on the target root
	if target.Mode != planner.ModeDisk && !cmd.Flags().Changed("state-dir") {
		stateDir = filepath.Join(target.Path, DefaultStateDir)
	}

	options := install.Options{
		Target:         target,
		Ref:            ref,
		KernelArgs:     installCmdArgs.kernelArgs,
		SkipFetchCheck: installCmdArgs.skipFetchCheck,
		StateDir:       stateDir,
		Logger:         newLogger(),
	}

	if installCmdArgs.progressJSON {
		options.Reporter = progress.NewJSONReporter(os.Stdout)
		options.Printf = log.Printf
	}

	return install.NewInstaller(options).Run(cmd.Context())
}

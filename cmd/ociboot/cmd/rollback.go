// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ociboot/ociboot/internal/pkg/bootloader"
	"github.com/ociboot/ociboot/internal/pkg/deployment"
)

var rollbackCmdArgs struct {
	bootPath string
	espPath  string
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Queue the rollback deployment for the next boot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager := deployment.NewManager(rootCmdArgs.stateDir, newLogger())

		if err := manager.Rollback(); err != nil {
			return err
		}

		b := bootloader.New(false)

		return b.Revert(bootloader.RevertPath(b, rollbackCmdArgs.bootPath, rollbackCmdArgs.espPath))
	},
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackCmdArgs.bootPath, "boot-path", "/boot", "mounted boot filesystem")
	rollbackCmd.Flags().StringVar(&rollbackCmdArgs.espPath, "esp-path", "/boot/efi", "mounted EFI system partition")

	rootCmd.AddCommand(rollbackCmd)
}

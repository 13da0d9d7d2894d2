// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/ociboot/ociboot/internal/pkg/install"
	"github.com/ociboot/ociboot/pkg/progress"
)

var upgradeCmdArgs struct {
	check        bool
	replace      bool
	bootPath     string
	espPath      string
	progressJSON bool
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Stage the next deployment from the tracked image reference",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		options := install.UpgradeOptions{
			StateDir: rootCmdArgs.stateDir,
			BootPath: upgradeCmdArgs.bootPath,
			ESPPath:  upgradeCmdArgs.espPath,
			Replace:  upgradeCmdArgs.replace,
			Logger:   newLogger(),
		}

		if upgradeCmdArgs.progressJSON {
			options.Reporter = progress.NewJSONReporter(os.Stdout)
			options.Printf = log.Printf
		}

		u := install.NewUpgrader(options)

		if upgradeCmdArgs.check {
			updated, err := u.Check(cmd.Context())
			if err != nil {
				return err
			}

			if updated {
				fmt.Println("update available")
			} else {
				fmt.Println("already up to date")
			}

			return nil
		}

		err := u.Run(cmd.Context())
		if errors.Is(err, install.ErrUpToDate) {
			fmt.Println("already up to date")

			return nil
		}

		return err
	},
}

func init() {
	upgradeCmd.Flags().BoolVar(&upgradeCmdArgs.check, "check", false, "check for an update without staging it")
	upgradeCmd.Flags().BoolVar(&upgradeCmdArgs.replace, "replace", false, "replace an already staged deployment")
	upgradeCmd.Flags().StringVar(&upgradeCmdArgs.bootPath, "boot-path", "/boot", "mounted boot filesystem")
	upgradeCmd.Flags().StringVar(&upgradeCmdArgs.espPath, "esp-path", "/boot/efi", "mounted EFI system partition")
	upgradeCmd.Flags().BoolVar(&upgradeCmdArgs.progressJSON, "progress-json", false, "emit machine-readable progress as NDJSON on stdout")

	rootCmd.AddCommand(upgradeCmd)
}

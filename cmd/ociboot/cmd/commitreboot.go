// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ociboot/ociboot/internal/pkg/deployment"
)

// commitRebootCmd runs from the boot flow of the staged deployment; it is
// not part of the user-facing surface.
var commitRebootCmd = &cobra.Command{
	Use:    "commit-reboot",
	Short:  "Promote the staged deployment after a successful boot",
	Args:   cobra.NoArgs,
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return deployment.NewManager(rootCmdArgs.stateDir, newLogger()).CommitReboot()
	},
}

func init() {
	rootCmd.AddCommand(commitRebootCmd)
}

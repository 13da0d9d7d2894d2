// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ociboot/ociboot/internal/pkg/deployment"
)

var statusCmdArgs struct {
	jsonOutput bool
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the booted, staged and rollback deployments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager := deployment.NewManager(rootCmdArgs.stateDir, newLogger())

		snapshot, err := manager.Status()
		if err != nil {
			return err
		}

		if statusCmdArgs.jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")

			return enc.Encode(snapshot.Document())
		}

		printDeployment("booted", snapshot.Booted)
		printDeployment("staged", snapshot.Staged)
		printDeployment("rollback", snapshot.Rollback)

		for _, d := range snapshot.Others {
			printDeployment("other", &d)
		}

		return nil
	},
}

func printDeployment(role string, d *deployment.Deployment) {
	if d == nil {
		fmt.Printf("%-8s  -\n", role)

		return
	}

	pinned := ""
	if d.Pinned {
		pinned = " (pinned)"
	}

	fmt.Printf("%-8s  #%d %s%s\n", role, d.Serial, d.Image, pinned)
}

func init() {
	statusCmd.Flags().BoolVar(&statusCmdArgs.jsonOutput, "json", false, "output as JSON")

	rootCmd.AddCommand(statusCmd)
}

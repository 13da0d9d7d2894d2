// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ociboot/ociboot/internal/pkg/deployment"
)

var pruneCmdArgs struct {
	retain int
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove old deployments beyond the retention count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager := deployment.NewManager(rootCmdArgs.stateDir, newLogger())

		removed, err := manager.Prune(pruneCmdArgs.retain)
		if err != nil {
			return err
		}

		for _, d := range removed {
			fmt.Printf("removed #%d %s\n", d.Serial, d.Image)
		}

		fmt.Printf("%d deployment(s) removed\n", len(removed))

		return nil
	},
}

func init() {
	pruneCmd.Flags().IntVar(&pruneCmdArgs.retain, "retain", deployment.DefaultRetain, "number of non-active deployments to keep")

	rootCmd.AddCommand(pruneCmd)
}

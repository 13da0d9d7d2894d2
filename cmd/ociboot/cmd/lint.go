// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ociboot/ociboot/internal/pkg/lint"
)

var lintCmdArgs struct {
	list bool
}

var lintCmd = &cobra.Command{
	Use:   "lint [ROOT]",
	Short: "Check an OS root tree for layout problems",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if lintCmdArgs.list {
			for _, l := range lint.List() {
				fmt.Printf("%-16s %-8s %s\n", l.Name, l.Severity, l.Description)
			}

			return nil
		}

		root := "/"
		if len(args) > 0 {
			root = args[0]
		}

		findings, err := lint.Run(root, newLogger())

		for _, f := range findings {
			fmt.Printf("%s: %s: %v\n", f.Severity, f.Name, f.Err)
		}

		return err
	},
}

func init() {
	lintCmd.Flags().BoolVar(&lintCmdArgs.list, "list", false, "list the lints and exit")

	rootCmd.AddCommand(lintCmd)
}

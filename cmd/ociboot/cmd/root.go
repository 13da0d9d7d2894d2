// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package cmd implements the ociboot command tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// DefaultStateDir is the deployment store location on the installed system.
const DefaultStateDir = "/var/lib/ociboot"

var rootCmdArgs struct {
	stateDir string
	debug    bool
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:           "ociboot",
	Short:         "Boot and manage an operating system delivered as a container image",
	Long:          ``,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootCmdArgs.stateDir, "state-dir", DefaultStateDir, "deployment state directory")
	rootCmd.PersistentFlags().BoolVar(&rootCmdArgs.debug, "debug", false, "enable debug logging")
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.DisableStacktrace = true

	if rootCmdArgs.debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	return zap.Must(cfg.Build())
}

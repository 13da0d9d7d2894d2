// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// installProfile mirrors the install flags; values apply only where the
// matching flag was not set explicitly.
type installProfile struct {
	Image     string `yaml:"image"`
	Transport string `yaml:"transport"`

	Wipe       *bool  `yaml:"wipe"`
	BlockSetup string `yaml:"blockSetup"`
	Filesystem string `yaml:"filesystem"`
	RootSize   string `yaml:"rootSize"`

	KernelArgs     []string `yaml:"kernelArgs"`
	SkipFetchCheck *bool    `yaml:"skipFetchCheck"`
	DisableSELinux *bool    `yaml:"disableSELinux"`
	GenericImage   *bool    `yaml:"genericImage"`
}

func applyProfile(cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read profile: %w", err)
	}

	var p installProfile

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&p); err != nil {
		return fmt.Errorf("failed to parse profile %s: %w", path, err)
	}

	changed := cmd.Flags().Changed

	if p.Image != "" && !changed("target-imgref") {
		installCmdArgs.targetImgref = p.Image
	}

	if p.Transport != "" && !changed("target-transport") {
		installCmdArgs.targetTransport = p.Transport
	}

	if p.Wipe != nil && !changed("wipe") {
		installCmdArgs.wipe = *p.Wipe
	}

	if p.BlockSetup != "" && !changed("block-setup") {
		installCmdArgs.blockSetup = p.BlockSetup
	}

	if p.Filesystem != "" && !changed("filesystem") {
		installCmdArgs.filesystem = p.Filesystem
	}

	if p.RootSize != "" && !changed("root-size") {
		installCmdArgs.rootSize = p.RootSize
	}

	if len(p.KernelArgs) > 0 && !changed("karg") {
		installCmdArgs.kernelArgs = p.KernelArgs
	}

	if p.SkipFetchCheck != nil && !changed("skip-fetch-check") {
		installCmdArgs.skipFetchCheck = *p.SkipFetchCheck
	}

	if p.DisableSELinux != nil && !changed("disable-selinux") {
		installCmdArgs.disableSELinux = *p.DisableSELinux
	}

	if p.GenericImage != nil && !changed("generic-image") {
		installCmdArgs.genericImage = *p.GenericImage
	}

	return nil
}

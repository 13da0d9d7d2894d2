// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package kargs merges the kernel command line from image defaults and
// user overrides.
package kargs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/siderolabs/go-procfs/procfs"
)

// DefaultsPath is the image-declared default kernel arguments file,
// relative to the deployment root: one argument per line, '#' comments.
const DefaultsPath = "usr/lib/ociboot/kargs"

// Defaults reads the image default kernel arguments from the deployment
// root. A missing file means no defaults.
func Defaults(rootPath string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(rootPath, DefaultsPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read default kernel arguments: %w", err)
	}

	var args []string

	for line := range strings.Lines(string(data)) {
		line = strings.TrimSpace(line)

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		args = append(args, line)
	}

	return args, nil
}

// Merge layers the override arguments on top of the defaults.
//
// Overrides sharing a key with a default replace it rather than duplicating
// it; an override of the form "-key" removes the default entirely.
func Merge(defaults, overrides []string) (string, error) {
	cmdline := procfs.NewCmdline("")

	cmdline.SetAll(defaults)

	var keys []string

	for _, arg := range overrides {
		key, _, _ := strings.Cut(strings.TrimPrefix(arg, "-"), "=")

		keys = append(keys, key)
	}

	if err := cmdline.AppendAll(
		overrides,
		procfs.WithOverwriteArgs(keys...),
		procfs.WithDeleteNegatedArgs(),
	); err != nil {
		return "", fmt.Errorf("failed to merge kernel arguments: %w", err)
	}

	return cmdline.String(), nil
}

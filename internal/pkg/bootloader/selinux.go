// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package bootloader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// selinuxConfigPath is relative to the deployment root.
const selinuxConfigPath = "etc/selinux/config"

// DisableSELinux rewrites the enforcement state in the deployment root's
// SELinux configuration before first boot.
//
// A root without SELinux configuration is left untouched.
func DisableSELinux(rootPath string) error {
	path := filepath.Join(rootPath, selinuxConfigPath)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("failed to read SELinux config: %w", err)
	}

	var (
		lines   []string
		found   bool
		changed bool
	)

	for line := range strings.Lines(string(data)) {
		line = strings.TrimSuffix(line, "\n")

		if strings.HasPrefix(strings.TrimSpace(line), "SELINUX=") {
			found = true

			if strings.TrimSpace(line) != "SELINUX=disabled" {
				line = "SELINUX=disabled"
				changed = true
			}
		}

		lines = append(lines, line)
	}

	if !found {
		lines = append(lines, "SELINUX=disabled")
		changed = true
	}

	if !changed {
		return nil
	}

	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to rewrite SELinux config: %w", err)
	}

	return nil
}

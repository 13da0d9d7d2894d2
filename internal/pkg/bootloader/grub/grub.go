// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package grub installs the GRUB bootloader for BIOS firmware.
package grub

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

// ConfigPath is the grub configuration, relative to the boot partition root.
const ConfigPath = "grub2/grub.cfg"

// MenuEntry is one boot entry in the grub configuration.
type MenuEntry struct {
	// Name is the entry title, also used as the asset directory name.
	Name string
	// Kernel and Initrd are paths relative to the boot partition root.
	Kernel string
	Initrd string
	// Cmdline is the merged kernel command line.
	Cmdline string
}

// Config represents the grub configuration: the default entry and an
// optional fallback pointing at the previously installed version.
type Config struct {
	Default  MenuEntry
	Fallback *MenuEntry
}

const confTemplate = `set default="{{ .Default.Name }}"
{{ with .Fallback -}}
set fallback="{{ .Name }}"
{{- end }}
set timeout=0

menuentry "{{ .Default.Name }}" {
  linux {{ .Default.Kernel }} {{ .Default.Cmdline }}
  initrd {{ .Default.Initrd }}
}
{{ with .Fallback -}}
menuentry "{{ .Name }}" {
  linux {{ .Kernel }} {{ .Cmdline }}
  initrd {{ .Initrd }}
}
{{- end }}
`

// Encode renders the grub configuration.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer

	if err := template.Must(template.New("grub").Parse(confTemplate)).Execute(&buf, c); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Write renders the configuration into the boot partition.
func (c *Config) Write(bootPath string, printf func(string, ...any)) error {
	data, err := c.Encode()
	if err != nil {
		return err
	}

	path := filepath.Join(bootPath, ConfigPath)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	printf("writing %s", path)

	tmp := path + ".new"

	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit grub config: %w", err)
	}

	return nil
}

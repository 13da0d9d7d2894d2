// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package grub

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	defaultRe   = regexp.MustCompile(`(?m)^set default="(.*)"$`)
	fallbackRe  = regexp.MustCompile(`(?m)^set fallback="(.*)"$`)
	menuEntryRe = regexp.MustCompile(`(?ms)^menuentry "(.+?)" {\n\s+linux (\S+)(?: (.*?))?\n\s+initrd (\S+)\n}`)
)

// Decode parses a previously written grub configuration.
//
// Only configurations produced by this package are supported.
func Decode(data []byte) (*Config, error) {
	defaultMatch := defaultRe.FindSubmatch(data)
	if defaultMatch == nil {
		return nil, errors.New("failed to find default entry in grub config")
	}

	conf := &Config{}

	entries := map[string]MenuEntry{}

	for _, m := range menuEntryRe.FindAllSubmatch(data, -1) {
		entries[string(m[1])] = MenuEntry{
			Name:    string(m[1]),
			Kernel:  string(m[2]),
			Cmdline: string(m[3]),
			Initrd:  string(m[4]),
		}
	}

	var ok bool

	if conf.Default, ok = entries[string(defaultMatch[1])]; !ok {
		return nil, fmt.Errorf("default entry %q has no menuentry", defaultMatch[1])
	}

	if fallbackMatch := fallbackRe.FindSubmatch(data); fallbackMatch != nil {
		fallback, ok := entries[string(fallbackMatch[1])]
		if !ok {
			return nil, fmt.Errorf("fallback entry %q has no menuentry", fallbackMatch[1])
		}

		conf.Fallback = &fallback
	}

	return conf, nil
}

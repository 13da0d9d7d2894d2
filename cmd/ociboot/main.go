// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package main provides the ociboot command.
package main

import "github.com/ociboot/ociboot/cmd/ociboot/cmd"

func main() {
	cmd.Execute()
}

// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build !linux

package planner

import (
	"errors"

	"github.com/ociboot/ociboot/internal/pkg/partition"
)

func mountedFilesystemType(string) (partition.FileSystemType, error) {
	return "", errors.New("filesystem probing is only supported on linux")
}

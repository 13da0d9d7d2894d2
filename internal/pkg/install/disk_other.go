// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build !linux

package install

import (
	"errors"

	"go.uber.org/zap"

	"github.com/ociboot/ociboot/internal/pkg/planner"
)

// RootMapperName is the device-mapper name of the opened encrypted root.
const RootMapperName = "ociboot-root"

type diskExecutor struct{}

func newDiskExecutor(*zap.Logger) DiskExecutor {
	return &diskExecutor{}
}

func (e *diskExecutor) Execute(*planner.Plan, func(string, ...any)) (*DiskTarget, error) {
	return nil, errors.New("disk installation is only supported on Linux")
}

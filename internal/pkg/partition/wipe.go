// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package partition

import (
	"github.com/siderolabs/go-blockdevice/v2/block"
)

// FastWipe destroys the partition table and filesystem signatures on the
// device without zeroing it fully.
func FastWipe(devname string) error {
	dev, err := block.NewFromPath(devname, block.OpenForWrite())
	if err != nil {
		return err
	}

	defer dev.Close() //nolint:errcheck

	return dev.FastWipe()
}

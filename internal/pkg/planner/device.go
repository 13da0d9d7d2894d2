// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package planner

// Device is the capability the planner needs from a block device; tests
// substitute a fake, production uses ProbeDevice.
type Device interface {
	Path() string
	Size() (uint64, error)
	IsWholeDisk() (bool, error)
	// Empty reports whether the device carries no partition table and no
	// filesystem signature (an empty GPT counts as empty).
	Empty() (bool, error)
}

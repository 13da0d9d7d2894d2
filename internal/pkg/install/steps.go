// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package install

import "fmt"

// Step names, in execution order.
const (
	StepValidate   = "validate"
	StepFetchCheck = "fetch-check"
	StepPull       = "pull"
	StepPartition  = "partition"
	StepDeploy     = "deploy"
	StepBootloader = "bootloader"
	StepCommit     = "commit"
)

// StepError annotates a failure with the step it happened in and whether
// destructive changes to the target had already been made.
type StepError struct {
	Step        string
	Destructive bool
	Err         error
}

func (e *StepError) Error() string {
	if e.Destructive {
		return fmt.Sprintf("step %s failed (destructive changes were made to the target): %v", e.Step, e.Err)
	}

	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepErr(step string, destructive bool, err error) error {
	return &StepError{
		Step:        step,
		Destructive: destructive,
		Err:         err,
	}
}

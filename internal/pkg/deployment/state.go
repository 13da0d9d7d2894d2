// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package deployment tracks installed OS versions and their boot roles.
//
// Deployments live in an arena ordered by serial; the booted, staged and
// rollback roles are serials pointing into the arena, so role changes never
// move or copy deployment records.
package deployment

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/siderolabs/go-pointer"

	"github.com/ociboot/ociboot/pkg/imageref"
)

// Operation errors.
var (
	// ErrConflict: staging over an existing staged deployment without replace.
	ErrConflict = errors.New("a staged deployment already exists")
	// ErrNotFound: rollback requested with no rollback deployment recorded.
	ErrNotFound = errors.New("no rollback deployment recorded")
	// ErrInvariant: the persisted state is in an impossible configuration.
	// Never auto-corrected.
	ErrInvariant = errors.New("deployment state invariant violation")
)

// Deployment is one materialized OS version bound to a boot entry.
//
// Role flags (booted/staged/rollback) are not stored here; they live in the
// State role serials.
type Deployment struct {
	Serial     uint64                  `json:"serial"`
	Image      imageref.ImageReference `json:"image"`
	Digest     digest.Digest           `json:"digest,omitempty"`
	KernelArgs []string                `json:"kernelArgs,omitempty"`
	Pinned     bool                    `json:"pinned,omitempty"`
	Created    time.Time               `json:"created"`
}

// State is the full persisted deployment state.
type State struct {
	// NextSerial is the serial the next created deployment receives.
	NextSerial uint64 `json:"nextSerial"`
	// Deployments is the arena, ascending by serial.
	Deployments []Deployment `json:"deployments"`

	Booted   *uint64 `json:"booted,omitempty"`
	Staged   *uint64 `json:"staged,omitempty"`
	Rollback *uint64 `json:"rollback,omitempty"`
}

// NewState returns the empty state (no deployments).
func NewState() *State {
	return &State{}
}

// Validate checks the structural invariants of the state.
func (s *State) Validate() error {
	var prev *uint64

	for _, d := range s.Deployments {
		if prev != nil && d.Serial <= *prev {
			return fmt.Errorf("%w: serials not strictly increasing at %d", ErrInvariant, d.Serial)
		}

		if d.Serial >= s.NextSerial {
			return fmt.Errorf("%w: serial %d not below next serial %d", ErrInvariant, d.Serial, s.NextSerial)
		}

		prev = pointer.To(d.Serial)
	}

	for _, role := range []struct {
		name   string
		serial *uint64
	}{
		{"booted", s.Booted},
		{"staged", s.Staged},
		{"rollback", s.Rollback},
	} {
		if role.serial != nil && s.Get(*role.serial) == nil {
			return fmt.Errorf("%w: %s serial %d has no deployment", ErrInvariant, role.name, *role.serial)
		}
	}

	if s.Booted != nil && s.Staged != nil && *s.Booted == *s.Staged {
		return fmt.Errorf("%w: deployment %d is both booted and staged", ErrInvariant, *s.Booted)
	}

	return nil
}

// Get returns the deployment with the given serial, or nil.
func (s *State) Get(serial uint64) *Deployment {
	i, found := slices.BinarySearchFunc(s.Deployments, serial, func(d Deployment, serial uint64) int {
		switch {
		case d.Serial < serial:
			return -1
		case d.Serial > serial:
			return 1
		default:
			return 0
		}
	})

	if !found {
		return nil
	}

	return &s.Deployments[i]
}

func (s *State) add(d Deployment) uint64 {
	d.Serial = s.NextSerial
	s.NextSerial++

	if d.Created.IsZero() {
		d.Created = time.Now().UTC()
	}

	s.Deployments = append(s.Deployments, d)

	return d.Serial
}

func (s *State) remove(serial uint64) {
	s.Deployments = slices.DeleteFunc(s.Deployments, func(d Deployment) bool {
		return d.Serial == serial
	})
}

// CommitInstall records the very first deployment as booted.
//
// Installation writes the tree the machine boots into, so unlike staging
// there is no "previous" deployment to keep running.
func (s *State) CommitInstall(d Deployment) (uint64, error) {
	if len(s.Deployments) != 0 {
		return 0, fmt.Errorf("%w: install commit with %d existing deployments", ErrInvariant, len(s.Deployments))
	}

	serial := s.add(d)
	s.Booted = pointer.To(serial)

	return serial, nil
}

// Stage records a new deployment to be activated on the next boot.
//
// An existing staged deployment fails the operation with ErrConflict unless
// replace is set, in which case it is dropped and the new one takes its
// place in a single transition.
func (s *State) Stage(d Deployment, replace bool) (uint64, error) {
	if s.Staged != nil {
		if !replace {
			return 0, fmt.Errorf("%w (serial %d)", ErrConflict, *s.Staged)
		}

		s.remove(*s.Staged)
		s.Staged = nil
	}

	serial := s.add(d)
	s.Staged = pointer.To(serial)

	return serial, nil
}

// CommitReboot promotes the staged deployment to booted, demoting the
// previously booted one to rollback. Called by the init system on the first
// boot into the staged deployment.
func (s *State) CommitReboot() error {
	if s.Staged == nil {
		return fmt.Errorf("%w: reboot commit with no staged deployment", ErrInvariant)
	}

	s.Rollback = s.Booted
	s.Booted = s.Staged
	s.Staged = nil

	return nil
}

// SwapRollback re-promotes the rollback deployment to booted and demotes the
// currently booted one to rollback.
func (s *State) SwapRollback() error {
	if s.Rollback == nil {
		return ErrNotFound
	}

	s.Booted, s.Rollback = s.Rollback, s.Booted

	return nil
}

// Prune removes deployments that are neither booted, staged nor pinned,
// oldest first, preserving the retain most recent removal candidates.
//
// It returns the removed deployments.
func (s *State) Prune(retain int) []Deployment {
	if retain < 0 {
		retain = 0
	}

	protected := func(d Deployment) bool {
		if d.Pinned {
			return true
		}

		for _, role := range []*uint64{s.Booted, s.Staged} {
			if role != nil && *role == d.Serial {
				return true
			}
		}

		return false
	}

	var candidates []Deployment

	for _, d := range s.Deployments {
		if !protected(d) {
			candidates = append(candidates, d)
		}
	}

	if len(candidates) <= retain {
		return nil
	}

	removed := candidates[:len(candidates)-retain]

	for _, d := range removed {
		s.remove(d.Serial)

		if s.Rollback != nil && *s.Rollback == d.Serial {
			s.Rollback = nil
		}
	}

	return removed
}

// Snapshot is an immutable status view of the state.
type Snapshot struct {
	Booted   *Deployment
	Staged   *Deployment
	Rollback *Deployment
	Others   []Deployment
}

// Status returns the role assignment snapshot, others newest first.
func (s *State) Status() Snapshot {
	var snap Snapshot

	inRole := func(serial uint64) bool {
		for _, role := range []*uint64{s.Booted, s.Staged, s.Rollback} {
			if role != nil && *role == serial {
				return true
			}
		}

		return false
	}

	copyOf := func(serial *uint64) *Deployment {
		if serial == nil {
			return nil
		}

		if d := s.Get(*serial); d != nil {
			return pointer.To(*d)
		}

		return nil
	}

	snap.Booted = copyOf(s.Booted)
	snap.Staged = copyOf(s.Staged)
	snap.Rollback = copyOf(s.Rollback)

	for i := len(s.Deployments) - 1; i >= 0; i-- {
		if !inRole(s.Deployments[i].Serial) {
			snap.Others = append(snap.Others, s.Deployments[i])
		}
	}

	return snap
}

// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package deployment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alexflint/go-filemutex"
	"go.uber.org/zap"
)

// Store layout under the state directory.
const (
	// StateFile holds the serialized State.
	StateFile = "state.json"
	// LockFile serializes mutations across processes.
	LockFile = "state.lock"
)

// DefaultRetain is the prune retention: the booted and staged deployments
// are always kept, and retention additionally preserves the most recent
// removal candidate, normally the rollback entry.
const DefaultRetain = 1

// Manager persists the deployment state under a directory with exclusive
// locking and atomic whole-file replacement.
//
// Every operation reads the state from disk; nothing is cached between
// calls, so status always reflects the committed file.
type Manager struct {
	dir    string
	logger *zap.Logger
}

// NewManager creates a manager over the given state directory.
func NewManager(dir string, logger *zap.Logger) *Manager {
	return &Manager{
		dir:    dir,
		logger: logger,
	}
}

func (m *Manager) withLock(fn func(s *State) error) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	mu, err := filemutex.New(filepath.Join(m.dir, LockFile))
	if err != nil {
		return fmt.Errorf("failed to create state lock: %w", err)
	}

	if err := mu.Lock(); err != nil {
		return fmt.Errorf("failed to acquire state lock: %w", err)
	}

	defer mu.Unlock() //nolint:errcheck

	s, err := m.load()
	if err != nil {
		return err
	}

	if err := fn(s); err != nil {
		return err
	}

	return m.persist(s)
}

func (m *Manager) load() (*State, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, StateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}

		return nil, fmt.Errorf("failed to read deployment state: %w", err)
	}

	s := NewState()

	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse deployment state: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// persist writes the state to a temporary file and atomically replaces the
// committed one, so a crash leaves either the old or the new state.
func (m *Manager) persist(s *State) error {
	if err := s.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize deployment state: %w", err)
	}

	f, err := os.CreateTemp(m.dir, StateFile+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}

	tmp := f.Name()

	defer os.Remove(tmp) //nolint:errcheck

	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close() //nolint:errcheck

		return fmt.Errorf("failed to write deployment state: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close() //nolint:errcheck

		return fmt.Errorf("failed to sync deployment state: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close deployment state: %w", err)
	}

	if err := os.Rename(tmp, filepath.Join(m.dir, StateFile)); err != nil {
		return fmt.Errorf("failed to commit deployment state: %w", err)
	}

	return nil
}

// CommitInstall records the first deployment of a fresh install as booted.
func (m *Manager) CommitInstall(d Deployment) (uint64, error) {
	var serial uint64

	err := m.withLock(func(s *State) error {
		var err error

		serial, err = s.CommitInstall(d)

		return err
	})
	if err != nil {
		return 0, err
	}

	m.logger.Info("committed install deployment", zap.Uint64("serial", serial), zap.String("image", d.Image.String()))

	return serial, nil
}

// Stage records a deployment to activate on next boot.
func (m *Manager) Stage(d Deployment, replace bool) (uint64, error) {
	var serial uint64

	err := m.withLock(func(s *State) error {
		var err error

		serial, err = s.Stage(d, replace)

		return err
	})
	if err != nil {
		return 0, err
	}

	m.logger.Info("staged deployment", zap.Uint64("serial", serial), zap.String("image", d.Image.String()))

	return serial, nil
}

// CommitReboot promotes the staged deployment after a reboot.
func (m *Manager) CommitReboot() error {
	return m.withLock(func(s *State) error {
		return s.CommitReboot()
	})
}

// Rollback swaps the booted and rollback deployments.
func (m *Manager) Rollback() error {
	err := m.withLock(func(s *State) error {
		return s.SwapRollback()
	})
	if err != nil {
		return err
	}

	m.logger.Info("queued rollback deployment for next boot")

	return nil
}

// Prune removes unprotected deployments beyond the retention count and
// returns the removed ones.
func (m *Manager) Prune(retain int) ([]Deployment, error) {
	var removed []Deployment

	err := m.withLock(func(s *State) error {
		removed = s.Prune(retain)

		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, d := range removed {
		m.logger.Info("pruned deployment", zap.Uint64("serial", d.Serial), zap.String("image", d.Image.String()))
	}

	return removed, nil
}

// Status reads the committed state and returns its snapshot.
func (m *Manager) Status() (Snapshot, error) {
	s, err := m.load()
	if err != nil {
		return Snapshot{}, err
	}

	return s.Status(), nil
}

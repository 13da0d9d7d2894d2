// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package luks sets up the encrypted root container: format, open, and
// TPM2 enrollment so the volume unlocks without interaction at boot.
package luks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/siderolabs/go-blockdevice/v2/encryption"
	"github.com/siderolabs/go-blockdevice/v2/encryption/luks"
	"github.com/siderolabs/go-cmd/pkg/cmd"
	"go.uber.org/zap"
)

// DefaultCipher matches the cryptsetup default for LUKS2.
const DefaultCipher = "aes-xts-plain64"

// keySlot is the slot holding the generated passphrase; TPM2 enrollment
// takes the next free slot.
const keySlot = 0

// Handler formats and opens the encrypted root volume.
type Handler struct {
	provider encryption.Provider
	logger   *zap.Logger

	run func(name string, args ...string) (string, error)
}

// Option customizes the handler.
type Option func(*Handler)

// WithRunner overrides the external command runner (used by tests).
func WithRunner(run func(string, ...string) (string, error)) Option {
	return func(h *Handler) { h.run = run }
}

// NewHandler creates a LUKS2 handler with the default cipher.
func NewHandler(logger *zap.Logger, opts ...Option) (*Handler, error) {
	cipher, err := luks.ParseCipherKind(DefaultCipher)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cipher kind: %w", err)
	}

	h := &Handler{
		provider: luks.New(cipher),
		logger:   logger,
		run:      cmd.Run,
	}

	for _, o := range opts {
		o(h)
	}

	return h, nil
}

// GenerateKey returns a fresh random passphrase key for the fallback slot.
func GenerateKey() (*encryption.Key, error) {
	buf := make([]byte, 32)

	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}

	return encryption.NewKey(keySlot, []byte(hex.EncodeToString(buf))), nil
}

// Encrypt formats devicePath as a LUKS2 container keyed by key.
func (h *Handler) Encrypt(ctx context.Context, devicePath string, key *encryption.Key) error {
	h.logger.Info("encrypting device", zap.String("device", devicePath))

	if err := h.provider.Encrypt(ctx, devicePath, key); err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", devicePath, err)
	}

	return nil
}

// Open maps the encrypted device under name and returns the mapped path.
//
// Open is idempotent: an already open container returns its existing path.
func (h *Handler) Open(ctx context.Context, devicePath, name string, key *encryption.Key) (string, error) {
	isOpen, path, err := h.provider.IsOpen(ctx, devicePath, name)
	if err != nil {
		return "", err
	}

	if isOpen {
		return path, nil
	}

	path, err = h.provider.Open(ctx, devicePath, name, key)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", devicePath, err)
	}

	h.logger.Info("opened encrypted device", zap.String("device", devicePath), zap.String("path", path))

	return path, nil
}

// Close tears down the device mapping.
func (h *Handler) Close(ctx context.Context, mappedPath string) error {
	return h.provider.Close(ctx, mappedPath)
}

// BindTPM2 enrolls the local TPM2 into the container so the volume unlocks
// automatically at boot, measured against PCR 7 (Secure Boot state).
//
// Enrollment authorizes with the fallback key, which stays valid as a
// recovery path.
func (h *Handler) BindTPM2(ctx context.Context, devicePath string, key *encryption.Key) error {
	keyFile, err := writeKeyFile(key)
	if err != nil {
		return err
	}

	defer os.RemoveAll(filepath.Dir(keyFile)) //nolint:errcheck

	h.logger.Info("enrolling TPM2 key", zap.String("device", devicePath))

	if _, err := h.run(
		"systemd-cryptenroll",
		"--tpm2-device=auto",
		"--tpm2-pcrs=7",
		"--unlock-key-file="+keyFile,
		devicePath,
	); err != nil {
		return fmt.Errorf("failed to enroll TPM2 key on %s: %w", devicePath, err)
	}

	return nil
}

func writeKeyFile(key *encryption.Key) (string, error) {
	dir, err := os.MkdirTemp("", "luks-key")
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, "key")

	if err := os.WriteFile(path, key.Value, 0o600); err != nil {
		os.RemoveAll(dir) //nolint:errcheck

		return "", err
	}

	return path, nil
}

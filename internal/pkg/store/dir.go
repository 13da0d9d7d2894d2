// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
)

// DirStore is a content-addressed store under a directory:
//
//	blobs/<algorithm>/<encoded>  layer blobs, verified on import
//	images/<algorithm>-<encoded>.json  image records by manifest digest
type DirStore struct {
	root string
}

// NewDirStore creates a store rooted at the given directory.
func NewDirStore(root string) *DirStore {
	return &DirStore{root: root}
}

// BlobPath returns the path a blob with the given digest lives at.
func (s *DirStore) BlobPath(d digest.Digest) string {
	return filepath.Join(s.root, "blobs", d.Algorithm().String(), d.Encoded())
}

// HasBlob reports whether the blob is already stored.
func (s *DirStore) HasBlob(d digest.Digest) bool {
	_, err := os.Stat(s.BlobPath(d))

	return err == nil
}

// OpenBlob opens a stored blob for reading.
func (s *DirStore) OpenBlob(d digest.Digest) (io.ReadCloser, error) {
	return os.Open(s.BlobPath(d))
}

// ImportBlob streams r into the store, verifying it matches the expected
// digest before committing. A mismatched stream leaves no trace.
func (s *DirStore) ImportBlob(expected digest.Digest, r io.Reader) error {
	if err := expected.Validate(); err != nil {
		return fmt.Errorf("invalid blob digest: %w", err)
	}

	dir := filepath.Dir(s.BlobPath(expected))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "import-")
	if err != nil {
		return err
	}

	tmp := f.Name()

	defer os.Remove(tmp) //nolint:errcheck

	digester := expected.Algorithm().Digester()

	if _, err := io.Copy(io.MultiWriter(f, digester.Hash()), r); err != nil {
		f.Close() //nolint:errcheck

		return fmt.Errorf("failed to import blob: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close() //nolint:errcheck

		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	if actual := digester.Digest(); actual != expected {
		return fmt.Errorf("blob digest mismatch: expected %s, got %s", expected, actual)
	}

	return os.Rename(tmp, s.BlobPath(expected))
}

func (s *DirStore) imagePath(d digest.Digest) string {
	return filepath.Join(s.root, "images", strings.ReplaceAll(d.String(), ":", "-")+".json")
}

// WriteImage persists the image record keyed by its manifest digest.
func (s *DirStore) WriteImage(img Image) error {
	if err := os.MkdirAll(filepath.Join(s.root, "images"), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(img, "", "  ")
	if err != nil {
		return err
	}

	path := s.imagePath(img.Digest)

	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

// ReadImage loads the image record for a manifest digest.
func (s *DirStore) ReadImage(d digest.Digest) (Image, error) {
	data, err := os.ReadFile(s.imagePath(d))
	if err != nil {
		return Image{}, fmt.Errorf("failed to read image record %s: %w", d, err)
	}

	var img Image

	if err := json.Unmarshal(data, &img); err != nil {
		return Image{}, fmt.Errorf("failed to parse image record %s: %w", d, err)
	}

	return img, nil
}

// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package store

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	"github.com/ociboot/ociboot/pkg/progress"
)

// OCI layer whiteout markers.
const (
	whiteoutPrefix = ".wh."
	whiteoutOpaque = ".wh..wh..opq"
)

// Checkout materializes the stored image as a root tree at dest, applying
// layers in order, reporting per-layer progress on the deploying task.
func (s *DirStore) Checkout(ctx context.Context, img Image, dest string, emitter *progress.Emitter, logger *zap.Logger) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	report := func(steps uint64, subtasks []progress.SubTask) {
		if emitter == nil {
			return
		}

		emitter.Report(progress.ProgressSteps{
			ID:          TaskDeploying,
			Task:        TaskDeploying,
			Description: "Deploying " + img.Digest.String(),
			Steps:       steps,
			StepsTotal:  uint64(len(img.Layers)),
			SubTasks:    subtasks,
		})
	}

	report(0, nil)

	for i, layer := range img.Layers {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.applyLayer(layer, dest); err != nil {
			return fmt.Errorf("failed to apply layer %s: %w", layer.Digest, err)
		}

		logger.Debug("applied layer", zap.String("digest", layer.Digest.String()))

		report(uint64(i+1), []progress.SubTask{progress.SubTaskStep{
			ID:          layer.Digest.Encoded()[:12],
			Subtask:     "layer",
			Description: layer.Digest.String(),
			Completed:   true,
		}})
	}

	return nil
}

func (s *DirStore) applyLayer(layer Layer, dest string) error {
	blob, err := s.OpenBlob(layer.Digest)
	if err != nil {
		return err
	}

	defer blob.Close() //nolint:errcheck

	r, err := decompress(blob, layer.MediaType)
	if err != nil {
		return err
	}

	return untar(tar.NewReader(r), dest)
}

// decompress picks the decompressor by the layer media type, falling back
// to magic-byte sniffing for media types outside the OCI image spec.
func decompress(r io.Reader, mediaType string) (io.Reader, error) {
	switch mediaType {
	case ocispec.MediaTypeImageLayerGzip:
		return gzip.NewReader(r)
	case ocispec.MediaTypeImageLayerZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}

		return zr.IOReadCloser(), nil
	case ocispec.MediaTypeImageLayer:
		return r, nil
	}

	br := bufio.NewReader(r)

	magic, err := br.Peek(4)
	if err != nil && err != io.EOF {
		return nil, err
	}

	switch {
	case len(magic) >= 2 && magic[0] == 0x1f && magic[1] == 0x8b:
		return gzip.NewReader(br)
	case bytes.HasPrefix(magic, []byte{0x28, 0xb5, 0x2f, 0xfd}):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, err
		}

		return zr.IOReadCloser(), nil
	default:
		return br, nil
	}
}

//nolint:gocyclo
func untar(tr *tar.Reader, dest string) error {
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}

		if err != nil {
			return err
		}

		path, err := safePath(dest, hdr.Name)
		if err != nil {
			return err
		}

		base := filepath.Base(hdr.Name)

		// whiteouts delete content shadowed by lower layers
		switch {
		case base == whiteoutOpaque:
			if err := clearDir(filepath.Dir(path)); err != nil {
				return err
			}

			continue
		case strings.HasPrefix(base, whiteoutPrefix):
			target := filepath.Join(filepath.Dir(path), strings.TrimPrefix(base, whiteoutPrefix))

			if err := os.RemoveAll(target); err != nil {
				return err
			}

			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, os.FileMode(hdr.Mode)&os.ModePerm); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}

			// replacing an existing file from a lower layer
			if err := os.RemoveAll(path); err != nil {
				return err
			}

			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&os.ModePerm)
			if err != nil {
				return err
			}

			if _, err := io.Copy(f, tr); err != nil {
				f.Close() //nolint:errcheck

				return err
			}

			if err := f.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}

			if err := os.RemoveAll(path); err != nil {
				return err
			}

			if err := os.Symlink(hdr.Linkname, path); err != nil {
				return err
			}
		case tar.TypeLink:
			linkTarget, err := safePath(dest, hdr.Linkname)
			if err != nil {
				return err
			}

			if err := os.RemoveAll(path); err != nil {
				return err
			}

			if err := os.Link(linkTarget, path); err != nil {
				return err
			}
		default:
			// character/block devices and fifos are not expected in OS images
			continue
		}
	}
}

func safePath(dest, name string) (string, error) {
	path := filepath.Join(dest, name)

	if !strings.HasPrefix(path, filepath.Clean(dest)+string(os.PathSeparator)) && path != filepath.Clean(dest) {
		return "", fmt.Errorf("archive entry %q escapes the destination", name)
	}

	return path, nil
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}

	return nil
}

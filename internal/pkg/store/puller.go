// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/opencontainers/go-digest"
	"github.com/siderolabs/go-retry/retry"
	"go.uber.org/zap"

	"github.com/ociboot/ociboot/pkg/imageref"
	"github.com/ociboot/ociboot/pkg/progress"
)

// versionLabel is the image config label carrying the OS version.
const versionLabel = "org.opencontainers.image.version"

// Puller fetches images over the supported transports into a DirStore.
type Puller struct {
	store  *DirStore
	logger *zap.Logger

	remoteOpts []remote.Option
}

// PullerOption customizes the puller.
type PullerOption func(*Puller)

// WithRemoteOptions adds go-containerregistry remote options (used by tests
// to point at a local registry).
func WithRemoteOptions(opts ...remote.Option) PullerOption {
	return func(p *Puller) { p.remoteOpts = append(p.remoteOpts, opts...) }
}

// NewPuller creates a puller backed by the given store.
func NewPuller(store *DirStore, logger *zap.Logger, opts ...PullerOption) *Puller {
	p := &Puller{
		store:  store,
		logger: logger,
	}

	for _, o := range opts {
		o(p)
	}

	return p
}

// Check resolves the manifest digest of the reference without downloading
// any content, verifying the image is reachable.
func (p *Puller) Check(ctx context.Context, ref imageref.ImageReference) (digest.Digest, error) {
	if ref.Transport != imageref.TransportRegistry {
		// local transports: resolving the image verifies it is readable
		img, err := p.image(ctx, ref)
		if err != nil {
			return "", err
		}

		return imageDigest(img)
	}

	nameRef, err := name.ParseReference(ref.Image)
	if err != nil {
		return "", fmt.Errorf("invalid image reference %q: %w", ref.Image, err)
	}

	var desc *v1.Descriptor

	err = retry.Exponential(2*time.Minute, retry.WithUnits(time.Second), retry.WithJitter(time.Second)).RetryWithContext(ctx,
		func(ctx context.Context) error {
			desc, err = remote.Head(nameRef, append(p.remoteOpts, remote.WithContext(ctx))...)
			if err != nil {
				return retry.ExpectedError(err)
			}

			return nil
		})
	if err != nil {
		return "", fmt.Errorf("failed to check image %s: %w", ref, err)
	}

	p.logger.Info("image check passed", zap.String("ref", ref.String()), zap.String("digest", desc.Digest.String()))

	return hashDigest(desc.Digest), nil
}

// Pull fetches the image into the store, reporting per-layer progress on
// the pulling task, and returns the stored image record.
//
//nolint:gocyclo
func (p *Puller) Pull(ctx context.Context, ref imageref.ImageReference, emitter *progress.Emitter) (Image, error) {
	img, err := p.image(ctx, ref)
	if err != nil {
		return Image{}, err
	}

	manifestDigest, err := imageDigest(img)
	if err != nil {
		return Image{}, err
	}

	layers, err := img.Layers()
	if err != nil {
		return Image{}, fmt.Errorf("failed to list layers of %s: %w", ref, err)
	}

	record := Image{
		Ref:     ref.String(),
		Digest:  manifestDigest,
		Version: imageVersion(img),
	}

	var bytesTotal uint64

	for _, layer := range layers {
		l, err := storedLayer(layer)
		if err != nil {
			return Image{}, err
		}

		record.Layers = append(record.Layers, l)

		bytesTotal += uint64(l.Size)
	}

	task := pullTask{
		emitter:    emitter,
		ref:        ref,
		bytesTotal: bytesTotal,
		stepsTotal: uint64(len(layers)),
	}

	task.flush(nil)

	for i, layer := range layers {
		if err := ctx.Err(); err != nil {
			return Image{}, err
		}

		l := record.Layers[i]

		if p.store.HasBlob(l.Digest) {
			p.logger.Debug("layer cached", zap.String("digest", l.Digest.String()))

			task.layerCached(l)

			continue
		}

		rc, err := layer.Compressed()
		if err != nil {
			return Image{}, fmt.Errorf("failed to fetch layer %s: %w", l.Digest, err)
		}

		err = p.store.ImportBlob(l.Digest, task.layerReader(l, rc))

		rc.Close() //nolint:errcheck

		if err != nil {
			return Image{}, err
		}

		task.layerDone(l)
	}

	if err := p.store.WriteImage(record); err != nil {
		return Image{}, err
	}

	p.logger.Info("image pulled",
		zap.String("ref", ref.String()),
		zap.String("digest", manifestDigest.String()),
		zap.Int("layers", len(record.Layers)),
	)

	return record, nil
}

// image resolves the reference to a v1.Image over its transport.
func (p *Puller) image(ctx context.Context, ref imageref.ImageReference) (v1.Image, error) {
	switch ref.Transport {
	case imageref.TransportRegistry:
		nameRef, err := name.ParseReference(ref.Image)
		if err != nil {
			return nil, fmt.Errorf("invalid image reference %q: %w", ref.Image, err)
		}

		img, err := remote.Image(nameRef, append(p.remoteOpts, remote.WithContext(ctx))...)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch image %s: %w", ref, err)
		}

		return img, nil
	case imageref.TransportOCI:
		index, err := layout.ImageIndexFromPath(ref.Image)
		if err != nil {
			return nil, fmt.Errorf("failed to open OCI layout %s: %w", ref.Image, err)
		}

		manifest, err := index.IndexManifest()
		if err != nil {
			return nil, err
		}

		if len(manifest.Manifests) == 0 {
			return nil, fmt.Errorf("OCI layout %s contains no images", ref.Image)
		}

		return index.Image(manifest.Manifests[0].Digest)
	case imageref.TransportOCIArchive:
		img, err := tarball.ImageFromPath(ref.Image, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open image archive %s: %w", ref.Image, err)
		}

		return img, nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", ref.Transport)
	}
}

func storedLayer(layer v1.Layer) (Layer, error) {
	h, err := layer.Digest()
	if err != nil {
		return Layer{}, err
	}

	size, err := layer.Size()
	if err != nil {
		return Layer{}, err
	}

	mt, err := layer.MediaType()
	if err != nil {
		return Layer{}, err
	}

	return Layer{
		Digest:    hashDigest(h),
		Size:      size,
		MediaType: string(mt),
	}, nil
}

func hashDigest(h v1.Hash) digest.Digest {
	return digest.NewDigestFromEncoded(digest.Algorithm(h.Algorithm), h.Hex)
}

func imageDigest(img v1.Image) (digest.Digest, error) {
	h, err := img.Digest()
	if err != nil {
		return "", fmt.Errorf("failed to resolve image digest: %w", err)
	}

	return hashDigest(h), nil
}

func imageVersion(img v1.Image) string {
	cfg, err := img.ConfigFile()
	if err != nil || cfg == nil {
		return ""
	}

	if v, ok := cfg.Config.Labels[versionLabel]; ok {
		return v
	}

	return ""
}

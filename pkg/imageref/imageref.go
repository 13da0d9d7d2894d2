// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package imageref provides the image reference type used to identify the OS payload.
package imageref

import (
	"fmt"
	"strings"

	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"
)

// Transport identifies the mechanism used to fetch the image.
type Transport string

// Supported transports.
const (
	TransportRegistry   Transport = "registry"
	TransportOCI        Transport = "oci"
	TransportOCIArchive Transport = "oci-archive"
)

// DefaultTransport is assumed when a reference carries no explicit transport.
const DefaultTransport = TransportRegistry

// ImageReference is a parsed reference to the OS container image.
//
// The zero value is not valid; use Parse or New.
type ImageReference struct {
	// Transport the image is fetched over.
	Transport Transport `json:"transport"`
	// Image is the repository plus optional tag and/or digest,
	// e.g. "quay.io/example/os:latest".
	Image string `json:"image"`
}

// New validates the image name for the given transport.
func New(transport Transport, image string) (ImageReference, error) {
	switch transport {
	case TransportRegistry:
		if _, err := reference.ParseNormalizedNamed(image); err != nil {
			return ImageReference{}, fmt.Errorf("invalid image reference %q: %w", image, err)
		}
	case TransportOCI, TransportOCIArchive:
		if image == "" {
			return ImageReference{}, fmt.Errorf("empty path for transport %q", transport)
		}
	default:
		return ImageReference{}, fmt.Errorf("unsupported transport %q", transport)
	}

	return ImageReference{
		Transport: transport,
		Image:     image,
	}, nil
}

// Parse parses a reference of the form "transport:image" or plain "image"
// (which implies the registry transport).
func Parse(s string) (ImageReference, error) {
	transport := DefaultTransport
	image := s

	if t, rest, ok := strings.Cut(s, ":"); ok {
		switch Transport(t) {
		case TransportRegistry, TransportOCI, TransportOCIArchive:
			transport, image = Transport(t), rest
		}
	}

	return New(transport, image)
}

// String renders the reference in "transport:image" form.
func (r ImageReference) String() string {
	return string(r.Transport) + ":" + r.Image
}

// WithDigest pins the reference to a resolved manifest digest, dropping any tag.
func (r ImageReference) WithDigest(d digest.Digest) ImageReference {
	image := r.Image

	if idx := strings.LastIndex(image, "@"); idx >= 0 {
		image = image[:idx]
	} else if named, err := reference.ParseNormalizedNamed(image); err == nil {
		image = named.Name()
	}

	return ImageReference{
		Transport: r.Transport,
		Image:     image + "@" + d.String(),
	}
}

// WithoutDigest drops the pinned digest, if any, so the reference resolves
// to whatever the tag currently points at.
func (r ImageReference) WithoutDigest() ImageReference {
	if idx := strings.LastIndex(r.Image, "@"); idx >= 0 {
		return ImageReference{
			Transport: r.Transport,
			Image:     r.Image[:idx],
		}
	}

	return r
}

// Digest returns the pinned digest, if any.
func (r ImageReference) Digest() (digest.Digest, bool) {
	idx := strings.LastIndex(r.Image, "@")
	if idx < 0 {
		return "", false
	}

	d, err := digest.Parse(r.Image[idx+1:])
	if err != nil {
		return "", false
	}

	return d, true
}

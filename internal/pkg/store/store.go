// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package store fetches OS container images into a local content store and
// materializes them as root filesystem trees.
package store

import (
	"github.com/opencontainers/go-digest"
)

// Progress task identifiers.
const (
	// TaskPulling is the image fetch task.
	TaskPulling = "pulling"
	// TaskDeploying is the tree materialization task.
	TaskDeploying = "deploying"
)

// Image is the stored record of a fetched image: the resolved manifest
// digest and the ordered layers backing it.
type Image struct {
	// Ref is the reference the image was fetched from.
	Ref string `json:"ref"`
	// Digest is the manifest digest.
	Digest digest.Digest `json:"digest"`
	// Version is the OS version declared by the image config, if any.
	Version string `json:"version,omitempty"`

	Layers []Layer `json:"layers"`
}

// Layer is one content-addressed layer of a stored image.
type Layer struct {
	Digest    digest.Digest `json:"digest"`
	Size      int64         `json:"size"`
	MediaType string        `json:"mediaType"`
}

// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package deployment

import (
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/siderolabs/gen/xslices"

	"github.com/ociboot/ociboot/pkg/imageref"
)

// StatusDocument is the machine-readable status output.
type StatusDocument struct {
	Status StatusBody `json:"status"`
}

// StatusBody groups deployments by role.
type StatusBody struct {
	Booted           *StatusDeployment  `json:"booted"`
	Staged           *StatusDeployment  `json:"staged"`
	Rollback         *StatusDeployment  `json:"rollback"`
	OtherDeployments []StatusDeployment `json:"otherDeployments"`
}

// StatusDeployment is one deployment in the status output.
type StatusDeployment struct {
	Serial     uint64        `json:"serial"`
	Image      StatusImage   `json:"image"`
	Digest     digest.Digest `json:"digest,omitempty"`
	KernelArgs []string      `json:"kernelArgs,omitempty"`
	Pinned     bool          `json:"pinned"`
	Created    time.Time     `json:"created"`
}

// StatusImage wraps the image source so the resolved reference sits at
// image.image.image in the document.
type StatusImage struct {
	Image imageref.ImageReference `json:"image"`
}

func statusDeployment(d Deployment) StatusDeployment {
	return StatusDeployment{
		Serial:     d.Serial,
		Image:      StatusImage{Image: d.Image},
		Digest:     d.Digest,
		KernelArgs: d.KernelArgs,
		Pinned:     d.Pinned,
		Created:    d.Created,
	}
}

// Document renders the snapshot as the status output document.
func (snap Snapshot) Document() StatusDocument {
	doc := StatusDocument{
		Status: StatusBody{
			// always an array in the output, even when empty
			OtherDeployments: append([]StatusDeployment{}, xslices.Map(snap.Others, statusDeployment)...),
		},
	}

	for _, role := range []struct {
		src *Deployment
		dst **StatusDeployment
	}{
		{snap.Booted, &doc.Status.Booted},
		{snap.Staged, &doc.Status.Staged},
		{snap.Rollback, &doc.Status.Rollback},
	} {
		if role.src != nil {
			d := statusDeployment(*role.src)
			*role.dst = &d
		}
	}

	return doc
}

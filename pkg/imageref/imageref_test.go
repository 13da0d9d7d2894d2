// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package imageref_test

import (
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ociboot/ociboot/pkg/imageref"
)

func TestParse(t *testing.T) {
	for _, test := range []struct {
		in        string
		transport imageref.Transport
		image     string
		expectErr bool
	}{
		{
			in:        "quay.io/example/os:latest",
			transport: imageref.TransportRegistry,
			image:     "quay.io/example/os:latest",
		},
		{
			in:        "registry:quay.io/example/os:v1",
			transport: imageref.TransportRegistry,
			image:     "quay.io/example/os:v1",
		},
		{
			in:        "oci:/var/lib/images/os",
			transport: imageref.TransportOCI,
			image:     "/var/lib/images/os",
		},
		{
			in:        "oci-archive:/tmp/os.tar",
			transport: imageref.TransportOCIArchive,
			image:     "/tmp/os.tar",
		},
		{
			in:        "registry:UPPERCASE NOT ALLOWED",
			expectErr: true,
		},
	} {
		t.Run(test.in, func(t *testing.T) {
			ref, err := imageref.Parse(test.in)

			if test.expectErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, test.transport, ref.Transport)
			assert.Equal(t, test.image, ref.Image)
		})
	}
}

func TestWithDigest(t *testing.T) {
	ref, err := imageref.Parse("quay.io/example/os:latest")
	require.NoError(t, err)

	d := digest.FromString("manifest")

	pinned := ref.WithDigest(d)
	assert.Equal(t, "registry:quay.io/example/os@"+d.String(), pinned.String())

	got, ok := pinned.Digest()
	assert.True(t, ok)
	assert.Equal(t, d, got)

	_, ok = ref.Digest()
	assert.False(t, ok)

	// re-pinning replaces the digest
	d2 := digest.FromString("other")
	repinned := pinned.WithDigest(d2)

	got, ok = repinned.Digest()
	assert.True(t, ok)
	assert.Equal(t, d2, got)
}

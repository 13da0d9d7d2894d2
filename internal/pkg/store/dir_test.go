// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package store_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ociboot/ociboot/internal/pkg/store"
)

func TestImportBlob(t *testing.T) {
	s := store.NewDirStore(t.TempDir())

	content := []byte("layer content")
	d := digest.FromBytes(content)

	assert.False(t, s.HasBlob(d))

	require.NoError(t, s.ImportBlob(d, bytes.NewReader(content)))
	assert.True(t, s.HasBlob(d))

	rc, err := s.OpenBlob(d)
	require.NoError(t, err)

	stored, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	assert.Equal(t, content, stored)
}

func TestImportBlobMismatch(t *testing.T) {
	s := store.NewDirStore(t.TempDir())

	d := digest.FromBytes([]byte("expected content"))

	err := s.ImportBlob(d, bytes.NewReader([]byte("tampered content")))
	require.ErrorContains(t, err, "digest mismatch")

	// a mismatched import leaves no blob behind
	assert.False(t, s.HasBlob(d))
}

func TestImageRecordRoundTrip(t *testing.T) {
	s := store.NewDirStore(t.TempDir())

	img := store.Image{
		Ref:     "registry:quay.io/example/os:1",
		Digest:  digest.FromBytes([]byte("manifest")),
		Version: "1.0.0",
		Layers: []store.Layer{
			{Digest: digest.FromBytes([]byte("layer")), Size: 5, MediaType: "application/vnd.oci.image.layer.v1.tar+gzip"},
		},
	}

	require.NoError(t, s.WriteImage(img))

	loaded, err := s.ReadImage(img.Digest)
	require.NoError(t, err)

	assert.Equal(t, img, loaded)

	_, err = s.ReadImage(digest.FromBytes([]byte("unknown")))
	assert.Error(t, err)
}

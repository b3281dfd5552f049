package manifeststore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcsanjeeb/dedup-registry/internal/apperror"
	"github.com/kcsanjeeb/dedup-registry/internal/blobstore"
	"github.com/kcsanjeeb/dedup-registry/internal/blockstore"
)

func newStore(t *testing.T) (*blobstore.Store, *Store) {
	t.Helper()
	root := t.TempDir()
	bs, err := blockstore.Open(filepath.Join(root, "blocks"), nil)
	require.NoError(t, err)
	blobs, err := blobstore.Open(filepath.Join(root, "layers"), bs, 4096)
	require.NoError(t, err)
	ms, err := Open(filepath.Join(root, "manifests"), blobs)
	require.NoError(t, err)
	return blobs, ms
}

func mustStoreBlob(t *testing.T, blobs *blobstore.Store, content []byte) string {
	t.Helper()
	digest := blobstore.CalculateDigest(content)
	_, err := blobs.Store(content, digest)
	require.NoError(t, err)
	return digest
}

func sampleManifest(configDigest string, layerDigests ...string) []byte {
	layers := ""
	for i, d := range layerDigests {
		if i > 0 {
			layers += ","
		}
		layers += `{"digest":"` + d + `"}`
	}
	return []byte(`{"schemaVersion":2,"config":{"digest":"` + configDigest + `"},"layers":[` + layers + `]}`)
}

func TestStore_PutAndGetByTagAndDigest(t *testing.T) {
	blobs, ms := newStore(t)
	cfg := mustStoreBlob(t, blobs, []byte(`{"arch":"amd64"}`))
	layer := mustStoreBlob(t, blobs, []byte("layer bytes"))

	body := sampleManifest(cfg, layer)
	digest, err := ms.Put("myrepo", "latest", MediaTypeDockerManifestV2, body)
	require.NoError(t, err)

	ct, gotDigest, gotBody, err := ms.Get("myrepo", "latest")
	require.NoError(t, err)
	assert.Equal(t, MediaTypeDockerManifestV2, ct)
	assert.Equal(t, digest, gotDigest)
	assert.Equal(t, body, gotBody)

	_, _, gotByDigest, err := ms.Get("myrepo", digest)
	require.NoError(t, err)
	assert.Equal(t, body, gotByDigest)
}

func TestStore_PutRejectsMissingLayer(t *testing.T) {
	blobs, ms := newStore(t)
	cfg := mustStoreBlob(t, blobs, []byte(`{"arch":"amd64"}`))

	body := sampleManifest(cfg, "sha256:deadbeef00000000000000000000000000000000000000000000000000000000")
	_, err := ms.Put("myrepo", "latest", MediaTypeDockerManifestV2, body)
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.KindBlobUnknown, appErr.Kind)

	_, err = ms.ListTags("myrepo")
	assert.Error(t, err)
}

func TestStore_TagOverwriteKeepsOldDigestReadable(t *testing.T) {
	blobs, ms := newStore(t)
	cfg := mustStoreBlob(t, blobs, []byte(`{"a":1}`))
	layer1 := mustStoreBlob(t, blobs, []byte("layer-1"))
	layer2 := mustStoreBlob(t, blobs, []byte("layer-2"))

	m1 := sampleManifest(cfg, layer1)
	d1, err := ms.Put("myrepo", "latest", MediaTypeDockerManifestV2, m1)
	require.NoError(t, err)

	m2 := sampleManifest(cfg, layer2)
	d2, err := ms.Put("myrepo", "latest", MediaTypeDockerManifestV2, m2)
	require.NoError(t, err)
	require.NotEqual(t, d1, d2)

	_, _, gotLatest, err := ms.Get("myrepo", "latest")
	require.NoError(t, err)
	assert.Equal(t, m2, gotLatest)

	_, _, gotOld, err := ms.Get("myrepo", d1)
	require.NoError(t, err)
	assert.Equal(t, m1, gotOld)
}

func TestStore_UnsupportedContentType(t *testing.T) {
	_, ms := newStore(t)
	_, err := ms.Put("myrepo", "latest", "text/plain", []byte("{}"))
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.KindUnsupportedManifestContentType, appErr.Kind)
}

func TestStore_ListTagsAndCatalog(t *testing.T) {
	blobs, ms := newStore(t)
	cfg := mustStoreBlob(t, blobs, []byte(`{}`))

	_, err := ms.Put("repo-a", "v1", MediaTypeDockerManifestV2, sampleManifest(cfg))
	require.NoError(t, err)
	_, err = ms.Put("repo-a", "v2", MediaTypeDockerManifestV2, sampleManifest(cfg))
	require.NoError(t, err)
	_, err = ms.Put("repo-b", "latest", MediaTypeDockerManifestV2, sampleManifest(cfg))
	require.NoError(t, err)

	tags, err := ms.ListTags("repo-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, tags)

	repos, err := ms.Catalog()
	require.NoError(t, err)
	assert.Equal(t, []string{"repo-a", "repo-b"}, repos)
}

func TestStore_DeleteTagLeavesDigestReachable(t *testing.T) {
	blobs, ms := newStore(t)
	cfg := mustStoreBlob(t, blobs, []byte(`{}`))
	digest, err := ms.Put("repo-a", "latest", MediaTypeDockerManifestV2, sampleManifest(cfg))
	require.NoError(t, err)

	require.NoError(t, ms.Delete("repo-a", "latest"))

	_, _, _, err = ms.Get("repo-a", "latest")
	assert.Error(t, err)

	_, _, _, err = ms.Get("repo-a", digest)
	assert.NoError(t, err)
}

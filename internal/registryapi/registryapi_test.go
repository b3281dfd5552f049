package registryapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kcsanjeeb/dedup-registry/internal/blobstore"
	"github.com/kcsanjeeb/dedup-registry/internal/blockstore"
	"github.com/kcsanjeeb/dedup-registry/internal/manifeststore"
	"github.com/kcsanjeeb/dedup-registry/internal/uploadsession"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	root := t.TempDir()

	blocks, err := blockstore.Open(filepath.Join(root, "blocks"), nil)
	require.NoError(t, err)

	blobs, err := blobstore.Open(filepath.Join(root, "layers"), blocks, 4096)
	require.NoError(t, err)

	uploads, err := uploadsession.Open(filepath.Join(root, "uploads"))
	require.NoError(t, err)

	manifests, err := manifeststore.Open(filepath.Join(root, "manifests"), blobs)
	require.NoError(t, err)

	s := New(blobs, uploads, manifests)
	return httptest.NewServer(s.Router())
}

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("sha256:%x", sum)
}

func TestPing(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v2/")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "registry/2.0", resp.Header.Get("Docker-Distribution-Api-Version"))
}

// TestChunkedUploadThenPull covers S1: initiate -> PATCH chunk(s) ->
// PUT finalize by digest -> GET blob back out byte for byte.
func TestChunkedUploadThenPull(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	content := bytes.Repeat([]byte("a"), 9000) // spans multiple 4KiB blocks
	digest := digestOf(content)

	resp, err := http.Post(srv.URL+"/v2/myrepo/blobs/uploads/", "", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id := resp.Header.Get("Docker-Upload-UUID")
	resp.Body.Close()
	require.NotEmpty(t, id)

	uploadURL := srv.URL + "/v2/myrepo/blobs/uploads/" + id

	req, err := http.NewRequest(http.MethodPatch, uploadURL, bytes.NewReader(content[:4096]))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "0-4095", resp.Header.Get("Range"))
	resp.Body.Close()

	req, err = http.NewRequest(http.MethodPatch, uploadURL, bytes.NewReader(content[4096:]))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	req, err = http.NewRequest(http.MethodPut, uploadURL+"?digest="+digest, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, digest, resp.Header.Get("Docker-Content-Digest"))
	resp.Body.Close()

	resp, err = http.Head(srv.URL + "/v2/myrepo/blobs/" + digest)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, fmt.Sprintf("%d", len(content)), resp.Header.Get("Content-Length"))
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/v2/myrepo/blobs/" + digest)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, content, body)
}

// TestMonolithicUpload covers S2: a single POST+PUT with the whole blob
// body inline, never going through PATCH.
func TestMonolithicUpload(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	content := []byte(`{"tiny":"config blob"}`)
	digest := digestOf(content)

	resp, err := http.Post(srv.URL+"/v2/myrepo/blobs/uploads/", "", nil)
	require.NoError(t, err)
	id := resp.Header.Get("Docker-Upload-UUID")
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodPut,
		srv.URL+"/v2/myrepo/blobs/uploads/"+id+"?digest="+digest, bytes.NewReader(content))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/v2/myrepo/blobs/" + digest)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, content, body)
}

// TestEmptyPatchRejected covers the spec's §9 open-question-2 decision:
// an empty PATCH body is a BLOB_UPLOAD_INVALID error, not a silent no-op.
func TestEmptyPatchRejected(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v2/myrepo/blobs/uploads/", "", nil)
	require.NoError(t, err)
	id := resp.Header.Get("Docker-Upload-UUID")
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodPatch, srv.URL+"/v2/myrepo/blobs/uploads/"+id, bytes.NewReader(nil))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var envelope struct {
		Errors []struct {
			Code string `json:"code"`
		} `json:"errors"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.Len(t, envelope.Errors, 1)
	require.Equal(t, "BLOB_UPLOAD_INVALID", envelope.Errors[0].Code)
}

// TestManifestPutGetDeleteByTagAndDigest covers S3/S4: a manifest PUT
// referencing already-uploaded blobs, then GET by both the tag and the
// computed digest, then DELETE.
func TestManifestPutGetDeleteByTagAndDigest(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	config := []byte(`{}`)
	configDigest := digestOf(config)
	layer := []byte("layer content")
	layerDigest := digestOf(layer)

	for _, blob := range [][]byte{config, layer} {
		d := digestOf(blob)
		resp, err := http.Post(srv.URL+"/v2/myrepo/blobs/uploads/", "", nil)
		require.NoError(t, err)
		id := resp.Header.Get("Docker-Upload-UUID")
		resp.Body.Close()

		req, err := http.NewRequest(http.MethodPut,
			srv.URL+"/v2/myrepo/blobs/uploads/"+id+"?digest="+d, bytes.NewReader(blob))
		require.NoError(t, err)
		resp, err = http.DefaultClient.Do(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	manifest := []byte(fmt.Sprintf(`{"schemaVersion":2,"config":{"digest":%q},"layers":[{"digest":%q}]}`,
		configDigest, layerDigest))
	manifestDigest := digestOf(manifest)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/v2/myrepo/manifests/latest", bytes.NewReader(manifest))
	require.NoError(t, err)
	req.Header.Set("Content-Type", manifeststore.MediaTypeDockerManifestV2)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, manifestDigest, resp.Header.Get("Docker-Content-Digest"))
	resp.Body.Close()

	for _, ref := range []string{"latest", manifestDigest} {
		resp, err = http.Get(srv.URL + "/v2/myrepo/manifests/" + ref)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, manifest, body)
	}

	resp, err = http.Get(srv.URL + "/v2/myrepo/tags/list")
	require.NoError(t, err)
	var tagList struct {
		Name string   `json:"name"`
		Tags []string `json:"tags"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tagList))
	resp.Body.Close()
	require.Equal(t, "myrepo", tagList.Name)
	require.Contains(t, tagList.Tags, "latest")

	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/v2/myrepo/manifests/latest", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
}

// TestManifestReferencingMissingBlobRejected covers S5: a manifest whose
// layer/config digest was never uploaded must be rejected.
func TestManifestReferencingMissingBlobRejected(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	bogus := "sha256:" + fmt.Sprintf("%064x", 1)
	manifest := []byte(fmt.Sprintf(`{"schemaVersion":2,"config":{"digest":%q},"layers":[]}`, bogus))

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/v2/myrepo/manifests/latest", bytes.NewReader(manifest))
	require.NoError(t, err)
	req.Header.Set("Content-Type", manifeststore.MediaTypeDockerManifestV2)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	var envelope struct {
		Errors []struct {
			Code string `json:"code"`
		} `json:"errors"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.Equal(t, "BLOB_UNKNOWN", envelope.Errors[0].Code)
}

// TestDigestMismatchRejected covers S6: finalizing an upload with a
// digest query parameter that doesn't match the uploaded bytes.
func TestDigestMismatchRejected(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	content := []byte("some bytes")
	wrongDigest := digestOf([]byte("different bytes"))

	resp, err := http.Post(srv.URL+"/v2/myrepo/blobs/uploads/", "", nil)
	require.NoError(t, err)
	id := resp.Header.Get("Docker-Upload-UUID")
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodPut,
		srv.URL+"/v2/myrepo/blobs/uploads/"+id+"?digest="+wrongDigest, bytes.NewReader(content))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var envelope struct {
		Errors []struct {
			Code string `json:"code"`
		} `json:"errors"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.Equal(t, "DIGEST_INVALID", envelope.Errors[0].Code)
}

func TestBlobNotFound(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	digest := digestOf([]byte("never uploaded"))
	resp, err := http.Get(srv.URL + "/v2/myrepo/blobs/" + digest)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCatalogAndMalformedPath(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v2/_catalog")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var catalog struct {
		Repositories []string `json:"repositories"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&catalog))
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/v2/nonsense-without-a-known-sub-path")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

package uploadsession

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcsanjeeb/dedup-registry/internal/apperror"
	"github.com/kcsanjeeb/dedup-registry/internal/blobstore"
	"github.com/kcsanjeeb/dedup-registry/internal/blockstore"
)

func newManager(t *testing.T) (*Manager, *blobstore.Store) {
	t.Helper()
	root := t.TempDir()
	mgr, err := Open(filepath.Join(root, "uploads"))
	require.NoError(t, err)

	bs, err := blockstore.Open(filepath.Join(root, "blocks"), nil)
	require.NoError(t, err)
	blobs, err := blobstore.Open(filepath.Join(root, "layers"), bs, 4096)
	require.NoError(t, err)
	return mgr, blobs
}

func TestManager_InitiateAppendFinalize(t *testing.T) {
	mgr, blobs := newManager(t)

	id, err := mgr.Initiate()
	require.NoError(t, err)

	n, err := mgr.Append(id, []byte("hello "))
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)

	n, err = mgr.Append(id, []byte("world"))
	require.NoError(t, err)
	assert.EqualValues(t, 11, n)

	digest := blobstore.CalculateDigest([]byte("hello world"))
	got, err := mgr.Finalize(id, digest, nil, blobs)
	require.NoError(t, err)
	assert.Equal(t, digest, got)

	_, err = mgr.Status(id)
	assert.Error(t, err)
}

func TestManager_EmptyAppendRejected(t *testing.T) {
	mgr, _ := newManager(t)
	id, err := mgr.Initiate()
	require.NoError(t, err)

	_, err = mgr.Append(id, nil)
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.KindEmptyAppend, appErr.Kind)
}

func TestManager_UnknownSessionRejected(t *testing.T) {
	mgr, _ := newManager(t)
	_, err := mgr.Append("forged-id", []byte("x"))
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.KindUnknownUploadSession, appErr.Kind)
}

func TestManager_FinalizeDigestMismatchLeavesSessionResumable(t *testing.T) {
	mgr, blobs := newManager(t)
	id, err := mgr.Initiate()
	require.NoError(t, err)
	_, err = mgr.Append(id, []byte("hello"))
	require.NoError(t, err)

	_, err = mgr.Finalize(id, "sha256:"+strings.Repeat("0", 64), nil, blobs)
	assert.Error(t, err)

	_, statErr := mgr.Status(id)
	assert.NoError(t, statErr)

	n, err := mgr.Append(id, []byte(" retry"))
	require.NoError(t, err)
	assert.EqualValues(t, len("hello retry"), n)
}

func TestManager_FinalizeInlineMonolithic(t *testing.T) {
	mgr, blobs := newManager(t)
	id, err := mgr.Initiate()
	require.NoError(t, err)

	content := []byte("monolithic upload")
	digest := blobstore.CalculateDigest(content)
	got, err := mgr.Finalize(id, digest, content, blobs)
	require.NoError(t, err)
	assert.Equal(t, digest, got)

	_, err = mgr.Status(id)
	assert.Error(t, err)
}

func TestManager_Abort(t *testing.T) {
	mgr, _ := newManager(t)
	id, err := mgr.Initiate()
	require.NoError(t, err)

	require.NoError(t, mgr.Abort(id))

	_, err = os.Stat(mgr.path(id))
	assert.Error(t, err)

	err = mgr.Abort(id)
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.KindUnknownUploadSession, appErr.Kind)
}

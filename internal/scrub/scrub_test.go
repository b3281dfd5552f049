package scrub

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcsanjeeb/dedup-registry/internal/blobstore"
	"github.com/kcsanjeeb/dedup-registry/internal/blockstore"
)

func TestScrubber_CleanStoreIsOK(t *testing.T) {
	root := t.TempDir()
	bs, err := blockstore.Open(filepath.Join(root, "blocks"), nil)
	require.NoError(t, err)
	layersDir := filepath.Join(root, "layers")
	ls, err := blobstore.Open(layersDir, bs, 4096)
	require.NoError(t, err)

	content := make([]byte, 9000)
	digest := blobstore.CalculateDigest(content)
	_, err = ls.Store(content, digest)
	require.NoError(t, err)

	s := New(layersDir, bs)
	ok, defects, err := s.Verify()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, defects)
}

func TestScrubber_DetectsMissingBlock(t *testing.T) {
	root := t.TempDir()
	bs, err := blockstore.Open(filepath.Join(root, "blocks"), nil)
	require.NoError(t, err)
	layersDir := filepath.Join(root, "layers")
	ls, err := blobstore.Open(layersDir, bs, 4096)
	require.NoError(t, err)

	content := make([]byte, 5000)
	for i := range content {
		content[i] = byte(i)
	}
	digest := blobstore.CalculateDigest(content)
	_, err = ls.Store(content, digest)
	require.NoError(t, err)

	blockEntries, err := os.ReadDir(filepath.Join(root, "blocks"))
	require.NoError(t, err)
	require.NotEmpty(t, blockEntries)
	require.NoError(t, os.Remove(filepath.Join(root, "blocks", blockEntries[0].Name())))

	s := New(layersDir, bs)
	ok, defects, err := s.Verify()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotEmpty(t, defects)
}

package storage

import (
	"bytes"
	"context"
	"log"
	"time"
)

// BlockMirror replicates installed blocks to a secondary Backend (an
// off-site MinIO bucket, typically) without holding up the write path:
// ReplicateBlock is fire-and-forget from the caller's perspective.
// Re-uploading a block that already made it across is harmless, since
// blocks are content-addressed and the upload is an overwrite of the
// same key.
type BlockMirror struct {
	backend Backend
}

// NewBlockMirror wraps backend as a blockstore.Mirror.
func NewBlockMirror(backend Backend) *BlockMirror {
	return &BlockMirror{backend: backend}
}

// ReplicateBlock uploads fp's bytes to the mirror backend in the
// background. Failures are logged, never surfaced to the installing
// request: the local filesystem copy is already durable and
// authoritative.
func (m *BlockMirror) ReplicateBlock(fp string, data []byte) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		path := "blocks/" + fp[:2] + "/" + fp
		if err := m.backend.Put(ctx, path, bytes.NewReader(data), int64(len(data))); err != nil {
			log.Printf(`{"timestamp":"%s","level":"warn","module":"storage","operation":"replicate_block","fp":"%s","error":"%v"}`,
				time.Now().Format(time.RFC3339), fp, err)
		}
	}()
}

package chunkstore

import (
	"fmt"

	"github.com/rerun-io/rerun-sub005/pkg/chunkid"
)

// ErrChunkRejected wraps a chunk-level validation failure (malformed time
// columns, non-monotone row ids, schema mismatches) that aborts the whole
// InsertChunk call, leaving the store untouched.
type ErrChunkRejected struct {
	ChunkID chunkid.ChunkId
	Cause   error
}

func (e *ErrChunkRejected) Error() string {
	return fmt.Sprintf("chunkstore: chunk %s rejected: %v", e.ChunkID, e.Cause)
}

func (e *ErrChunkRejected) Unwrap() error { return e.Cause }

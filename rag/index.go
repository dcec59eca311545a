package rag

import "context"

// Index stores embedding vectors by chunk id and answers nearest-neighbor
// queries.
type Index interface {
	// Insert adds or replaces the vector of chunkID. The first insert fixes
	// the dimension of the index.
	Insert(ctx context.Context, chunkID string, vector []float32) error

	// Query returns up to k matches ordered nearest-first. It fails with
	// ErrEmptyIndex when the index holds no vectors.
	Query(ctx context.Context, vector []float32, k int) ([]Match, error)
}

// ChunkStore keeps chunk text and metadata addressable by chunk id.
type ChunkStore interface {
	Put(ctx context.Context, chunks []Chunk) error
	Get(ctx context.Context, id string) (Chunk, error)
}

// DocumentChunks is implemented by chunk stores that can list and drop the
// chunks of one document. The pipeline uses it to remove chunks a
// re-ingested document no longer produces.
type DocumentChunks interface {
	ChunkIDs(ctx context.Context, documentID string) ([]string, error)
	Delete(ctx context.Context, chunkIDs []string) error
}

// Remover is implemented by indexes that can drop vectors.
type Remover interface {
	Remove(ctx context.Context, chunkIDs []string) error
}

// unwrapIndex strips decorators that expose the index they wrap.
func unwrapIndex(idx Index) Index {
	for {
		u, ok := idx.(interface{ Unwrap() Index })
		if !ok {
			return idx
		}
		idx = u.Unwrap()
	}
}

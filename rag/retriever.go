package rag

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Retriever embeds a query and resolves the nearest chunks.
type Retriever struct {
	embedder Embedder
	index    Index
	store    ChunkStore
	logger   *zap.Logger
}

type RetrieverOption func(*Retriever)

func WithRetrieverLogger(logger *zap.Logger) RetrieverOption {
	return func(r *Retriever) {
		r.logger = logger
	}
}

func NewRetriever(embedder Embedder, index Index, store ChunkStore, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		embedder: embedder,
		index:    index,
		store:    store,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns up to k chunks nearest to query, nearest first.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, invalidArgument("query is required")
	}
	if k <= 0 {
		return nil, invalidArgument("k must be positive, got %d", k)
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := r.index.Query(ctx, vec, k)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		ch, err := r.store.Get(ctx, m.ChunkID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve index hit: %w", err)
		}
		results = append(results, SearchResult{Chunk: ch, Distance: m.Distance})
	}

	r.logger.Debug("retrieved chunks",
		zap.Int("k", k),
		zap.Int("results", len(results)),
	)
	return results, nil
}

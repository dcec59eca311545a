package rag

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemoryIndexOption configures a MemoryIndex.
type MemoryIndexOption func(*MemoryIndex)

// WithMetric sets the distance function. The default is MetricL2.
func WithMetric(m Metric) MemoryIndexOption {
	return func(idx *MemoryIndex) {
		idx.metric = m
	}
}

// WithDimension fixes the dimension up front instead of on first insert.
func WithDimension(dim int) MemoryIndexOption {
	return func(idx *MemoryIndex) {
		idx.dim = dim
	}
}

// MemoryIndex is an exact nearest-neighbor index held in process memory.
// Ties are broken by insertion order.
type MemoryIndex struct {
	mu      sync.RWMutex
	metric  Metric
	dim     int
	ids     []string
	vectors [][]float32
	pos     map[string]int
}

func NewMemoryIndex(opts ...MemoryIndexOption) *MemoryIndex {
	idx := &MemoryIndex{
		metric: MetricL2,
		pos:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

func (idx *MemoryIndex) Insert(_ context.Context, chunkID string, vector []float32) error {
	if chunkID == "" {
		return invalidArgument("chunk id is empty")
	}
	if err := CheckVector(vector); err != nil {
		return fmt.Errorf("chunk %q: %w", chunkID, err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := CheckDimension(idx.dim, len(vector)); err != nil {
		return err
	}
	idx.dim = len(vector)

	v := slices.Clone(vector)
	if i, ok := idx.pos[chunkID]; ok {
		idx.vectors[i] = v
		return nil
	}
	idx.pos[chunkID] = len(idx.ids)
	idx.ids = append(idx.ids, chunkID)
	idx.vectors = append(idx.vectors, v)
	return nil
}

func (idx *MemoryIndex) Query(_ context.Context, vector []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, invalidArgument("k must be positive, got %d", k)
	}
	if err := CheckVector(vector); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.ids) == 0 {
		return nil, ErrEmptyIndex
	}
	if err := CheckDimension(idx.dim, len(vector)); err != nil {
		return nil, err
	}

	results := make([]Match, len(idx.ids))
	for i, v := range idx.vectors {
		results[i] = Match{ChunkID: idx.ids[i], Distance: idx.metric.Distance(vector, v)}
	}

	// stable: equal distances keep insertion order
	slices.SortStableFunc(results, func(a, b Match) int {
		return cmp.Compare(a.Distance, b.Distance)
	})

	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// Len returns the number of stored vectors.
func (idx *MemoryIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.ids)
}

// Dimension returns the established dimension, 0 while the index is empty
// and no dimension was configured.
func (idx *MemoryIndex) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dim
}

func (idx *MemoryIndex) Metric() Metric {
	return idx.metric
}

// Vector returns a copy of the stored vector for chunkID.
func (idx *MemoryIndex) Vector(chunkID string) ([]float32, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	i, ok := idx.pos[chunkID]
	if !ok {
		return nil, false
	}
	return slices.Clone(idx.vectors[i]), true
}

// Remove drops the vectors of chunkIDs. Unknown ids are ignored and the
// remaining entries keep their insertion order.
func (idx *MemoryIndex) Remove(_ context.Context, chunkIDs []string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	drop := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		if _, ok := idx.pos[id]; ok {
			drop[id] = true
		}
	}
	if len(drop) == 0 {
		return nil
	}

	ids := idx.ids[:0]
	vectors := idx.vectors[:0]
	for i, id := range idx.ids {
		if drop[id] {
			delete(idx.pos, id)
			continue
		}
		idx.pos[id] = len(ids)
		ids = append(ids, id)
		vectors = append(vectors, idx.vectors[i])
	}
	clear(idx.vectors[len(vectors):])
	idx.ids = ids
	idx.vectors = vectors
	return nil
}

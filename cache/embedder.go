package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"go-rag-pipeline/rag"
)

// Embedder wraps another embedder and consults a Cache first. Cache errors
// are logged and treated as misses.
type Embedder struct {
	next      rag.Embedder
	cache     Cache
	namespace string
	observe   func(hit bool)
	logger    *zap.Logger
}

type EmbedderOption func(*Embedder)

// WithObserver is called once per looked up text.
func WithObserver(fn func(hit bool)) EmbedderOption {
	return func(e *Embedder) {
		e.observe = fn
	}
}

func WithLogger(logger *zap.Logger) EmbedderOption {
	return func(e *Embedder) {
		e.logger = logger
	}
}

// Namespace names the vectors of model at dimension. Shortened embeddings
// of one model must not share cache entries with the full-size ones.
func Namespace(model string, dimension int) string {
	if dimension <= 0 {
		return model
	}
	return fmt.Sprintf("%s@%d", model, dimension)
}

// NewEmbedder keys entries by namespace, usually built with Namespace, so
// switching models or dimensions never serves stale vectors.
func NewEmbedder(next rag.Embedder, c Cache, namespace string, opts ...EmbedderOption) *Embedder {
	e := &Embedder{
		next:      next,
		cache:     c,
		namespace: namespace,
		observe:   func(bool) {},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Embedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return e.namespace + ":" + hex.EncodeToString(sum[:])
}

func (e *Embedder) lookup(ctx context.Context, text string) ([]float32, bool) {
	v, ok, err := e.cache.Get(ctx, e.key(text))
	if err != nil {
		e.logger.Warn("embedding cache lookup failed", zap.Error(err))
		ok = false
	}
	e.observe(ok)
	return v, ok
}

func (e *Embedder) store(ctx context.Context, text string, v []float32) {
	if err := e.cache.Set(ctx, e.key(text), v); err != nil {
		e.logger.Warn("embedding cache write failed", zap.Error(err))
	}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.lookup(ctx, text); ok {
		return v, nil
	}
	v, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.store(ctx, text, v)
	return v, nil
}

// EmbedBatch only sends the misses to the wrapped embedder.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if v, ok := e.lookup(ctx, t); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := rag.EmbedAll(ctx, e.next, missTexts, len(missTexts))
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(missTexts), len(vecs))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		e.store(ctx, missTexts[j], vecs[j])
	}
	return out, nil
}

var _ rag.BatchEmbedder = (*Embedder)(nil)

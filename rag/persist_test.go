package rag

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndex_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(3))

	for _, metric := range []Metric{MetricL2, MetricCosine} {
		t.Run(string(metric), func(t *testing.T) {
			idx := NewMemoryIndex(WithMetric(metric))
			for i := 0; i < 40; i++ {
				v := make([]float32, 16)
				for j := range v {
					v[j] = rng.Float32()
				}
				require.NoError(t, idx.Insert(ctx, fmt.Sprintf("c%d", i), v))
			}

			var buf bytes.Buffer
			require.NoError(t, idx.Save(&buf))

			loaded, err := LoadMemoryIndex(&buf)
			require.NoError(t, err)
			assert.Equal(t, idx.Len(), loaded.Len())
			assert.Equal(t, idx.Dimension(), loaded.Dimension())
			assert.Equal(t, metric, loaded.Metric())

			for q := 0; q < 10; q++ {
				query := make([]float32, 16)
				for j := range query {
					query[j] = rng.Float32()
				}
				want, err := idx.Query(ctx, query, 5)
				require.NoError(t, err)
				got, err := loaded.Query(ctx, query, 5)
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestLoadMemoryIndex_RejectsBadSnapshots(t *testing.T) {
	tests := map[string]string{
		"version":   `{"version":9,"metric":"l2","dimension":1,"entries":[]}`,
		"metric":    `{"version":1,"metric":"hamming","dimension":1,"entries":[]}`,
		"dimension": `{"version":1,"metric":"l2","dimension":2,"entries":[{"id":"a","vector":[1]}]}`,
		"duplicate": `{"version":1,"metric":"l2","dimension":1,"entries":[{"id":"a","vector":[1]},{"id":"a","vector":[2]}]}`,
		"no dim":    `{"version":1,"metric":"l2","dimension":0,"entries":[{"id":"a","vector":[1]}]}`,
		"garbage":   `not json`,
	}
	for name, blob := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadMemoryIndex(strings.NewReader(blob))
			assert.Error(t, err)
		})
	}
}

func TestSaveStateLoadState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	idx := NewMemoryIndex()
	store := NewDocumentStore()
	chunks := []Chunk{
		{ID: "a-1", Content: "alpha", Source: "a.txt"},
		{ID: "b-1", Content: "beta", Source: "b.pdf", Page: 2, Offset: 10},
	}
	require.NoError(t, store.Put(ctx, chunks))
	require.NoError(t, idx.Insert(ctx, "a-1", []float32{1, 0}))
	require.NoError(t, idx.Insert(ctx, "b-1", []float32{0, 1}))

	require.NoError(t, SaveState(dir, idx, store))
	assert.FileExists(t, filepath.Join(dir, IndexFileName))
	assert.FileExists(t, filepath.Join(dir, ChunksFileName))

	loadedIdx, loadedStore, err := LoadState(dir)
	require.NoError(t, err)
	assert.Equal(t, chunks, loadedStore.All())

	res, err := loadedIdx.Query(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, "b-1", res[0].ChunkID)
}

func TestLoadState_MissingDirGivesEmptyState(t *testing.T) {
	idx, store, err := LoadState(filepath.Join(t.TempDir(), "nothing"), WithMetric(MetricCosine))
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, MetricCosine, idx.Metric())
	assert.Equal(t, 0, store.Len())
}

func TestLoadState_IndexWithoutChunks(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFileName),
		[]byte(`{"version":1,"metric":"l2","dimension":0,"entries":[]}`), 0o644))

	_, _, err := LoadState(dir)
	assert.Error(t, err)
}

type wrappedIndex struct{ Index }

func (w wrappedIndex) Unwrap() Index { return w.Index }

func TestPipeline_SaveAndLoadPipelineState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	emb := NewHashEmbedder(64)

	p := NewPipeline(emb, wrappedIndex{NewMemoryIndex()}, NewDocumentStore())
	_, err := p.Ingest(ctx, testDocs())
	require.NoError(t, err)
	want, err := p.Search(ctx, "goroutines and channels", 3)
	require.NoError(t, err)

	require.NoError(t, p.Save(dir))

	loaded, err := LoadPipelineState(dir, emb)
	require.NoError(t, err)
	got, err := loaded.Search(ctx, "goroutines and channels", 3)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

type noSnapshotIndex struct{ Index }

func TestPipeline_SaveUnsupported(t *testing.T) {
	p := NewPipeline(NewHashEmbedder(8), noSnapshotIndex{NewMemoryIndex()}, NewDocumentStore())
	assert.ErrorIs(t, p.Save(t.TempDir()), ErrSnapshotUnsupported)
}

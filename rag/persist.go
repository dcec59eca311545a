package rag

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	snapshotVersion = 1

	IndexFileName  = "index.json"
	ChunksFileName = "chunks.json"
)

type indexSnapshot struct {
	Version   int             `json:"version"`
	Metric    Metric          `json:"metric"`
	Dimension int             `json:"dimension"`
	Entries   []snapshotEntry `json:"entries"`
}

type snapshotEntry struct {
	ID     string    `json:"id"`
	Vector []float32 `json:"vector"`
}

type chunkSnapshot struct {
	Version int     `json:"version"`
	Chunks  []Chunk `json:"chunks"`
}

// Save writes the index as JSON. Entries keep insertion order so tie-breaks
// survive a reload.
func (idx *MemoryIndex) Save(w io.Writer) error {
	idx.mu.RLock()
	snap := indexSnapshot{
		Version:   snapshotVersion,
		Metric:    idx.metric,
		Dimension: idx.dim,
		Entries:   make([]snapshotEntry, len(idx.ids)),
	}
	for i, id := range idx.ids {
		snap.Entries[i] = snapshotEntry{ID: id, Vector: idx.vectors[i]}
	}
	idx.mu.RUnlock()

	if err := json.NewEncoder(w).Encode(snap); err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	return nil
}

// LoadMemoryIndex reads an index written by Save.
func LoadMemoryIndex(r io.Reader) (*MemoryIndex, error) {
	var snap indexSnapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode index: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported index snapshot version %d", snap.Version)
	}
	metric, err := ParseMetric(string(snap.Metric))
	if err != nil {
		return nil, err
	}
	if snap.Dimension <= 0 && len(snap.Entries) > 0 {
		return nil, fmt.Errorf("index snapshot has %d entries but no dimension", len(snap.Entries))
	}

	idx := NewMemoryIndex(WithMetric(metric), WithDimension(snap.Dimension))
	idx.ids = make([]string, 0, len(snap.Entries))
	idx.vectors = make([][]float32, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		if err := CheckDimension(snap.Dimension, len(e.Vector)); err != nil {
			return nil, fmt.Errorf("entry %q: %w", e.ID, err)
		}
		if _, dup := idx.pos[e.ID]; dup {
			return nil, fmt.Errorf("duplicate entry %q in index snapshot", e.ID)
		}
		idx.pos[e.ID] = len(idx.ids)
		idx.ids = append(idx.ids, e.ID)
		idx.vectors = append(idx.vectors, e.Vector)
	}
	return idx, nil
}

// Save writes the chunks as JSON in insertion order.
func (s *DocumentStore) Save(w io.Writer) error {
	snap := chunkSnapshot{Version: snapshotVersion, Chunks: s.All()}
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		return fmt.Errorf("failed to encode chunks: %w", err)
	}
	return nil
}

// LoadDocumentStore reads chunks written by DocumentStore.Save.
func LoadDocumentStore(r io.Reader) (*DocumentStore, error) {
	var snap chunkSnapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode chunks: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported chunk snapshot version %d", snap.Version)
	}
	s := NewDocumentStore()
	s.Add(snap.Chunks...)
	return s, nil
}

// SaveState writes index.json and chunks.json into dir.
func SaveState(dir string, idx *MemoryIndex, store *DocumentStore) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, IndexFileName), idx.Save); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, ChunksFileName), store.Save)
}

// LoadState reads the state written by SaveState. A directory without
// state files yields an empty index and store.
func LoadState(dir string, opts ...MemoryIndexOption) (*MemoryIndex, *DocumentStore, error) {
	idxFile, err := os.Open(filepath.Join(dir, IndexFileName))
	if errors.Is(err, os.ErrNotExist) {
		return NewMemoryIndex(opts...), NewDocumentStore(), nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open index: %w", err)
	}
	defer func() { _ = idxFile.Close() }()

	idx, err := LoadMemoryIndex(idxFile)
	if err != nil {
		return nil, nil, err
	}

	chunkFile, err := os.Open(filepath.Join(dir, ChunksFileName))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open chunks: %w", err)
	}
	defer func() { _ = chunkFile.Close() }()

	store, err := LoadDocumentStore(chunkFile)
	if err != nil {
		return nil, nil, err
	}
	return idx, store, nil
}

func writeFileAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ErrSnapshotUnsupported is returned by Pipeline.Save when the index or
// store keeps its own durable state.
var ErrSnapshotUnsupported = errors.New("index does not support snapshots")

// Save writes the pipeline's index and chunks into dir. Wrapped indexes are
// unwrapped through an Unwrap() Index method.
func (p *Pipeline) Save(dir string) error {
	mem, ok := unwrapIndex(p.index).(*MemoryIndex)
	if !ok {
		return ErrSnapshotUnsupported
	}
	store, ok := p.store.(*DocumentStore)
	if !ok {
		return ErrSnapshotUnsupported
	}
	if err := SaveState(dir, mem, store); err != nil {
		return err
	}
	p.logger.Info("saved pipeline state",
		zap.String("dir", dir),
		zap.Int("vectors", mem.Len()),
		zap.Int("chunks", store.Len()),
	)
	return nil
}

// LoadPipelineState rebuilds a pipeline from a directory written by Save.
func LoadPipelineState(dir string, embedder Embedder, opts ...PipelineOption) (*Pipeline, error) {
	idx, store, err := LoadState(dir)
	if err != nil {
		return nil, err
	}
	return NewPipeline(embedder, idx, store, opts...), nil
}

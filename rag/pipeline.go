package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNoGenerator is returned by Ask on a pipeline built without a Generator.
var ErrNoGenerator = errors.New("no generator configured")

const (
	DefaultTopK      = 4
	DefaultBatchSize = 32
)

// Pipeline owns the collaborators of one RAG corpus. Every step runs
// sequentially on the caller's goroutine.
type Pipeline struct {
	chunker   Chunker
	embedder  Embedder
	index     Index
	store     ChunkStore
	generator Generator
	retriever *Retriever
	batchSize int
	logger    *zap.Logger
}

type PipelineOption func(*Pipeline)

func WithChunker(c Chunker) PipelineOption {
	return func(p *Pipeline) {
		p.chunker = c
	}
}

func WithGenerator(g Generator) PipelineOption {
	return func(p *Pipeline) {
		p.generator = g
	}
}

func WithBatchSize(n int) PipelineOption {
	return func(p *Pipeline) {
		p.batchSize = n
	}
}

func WithLogger(logger *zap.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func NewPipeline(embedder Embedder, index Index, store ChunkStore, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		chunker:   NewSentenceChunker(3, 0, 0),
		embedder:  embedder,
		index:     index,
		store:     store,
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.batchSize <= 0 {
		p.batchSize = DefaultBatchSize
	}
	p.retriever = NewRetriever(embedder, index, store, WithRetrieverLogger(p.logger))
	return p
}

func (p *Pipeline) Retriever() *Retriever {
	return p.retriever
}

// IngestStats summarizes one Ingest call.
type IngestStats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Empty     int `json:"empty_documents"`
}

// Ingest chunks, embeds and indexes docs. Chunks are stored before their
// vectors are inserted so that every index hit resolves.
func (p *Pipeline) Ingest(ctx context.Context, docs []Document) (IngestStats, error) {
	var stats IngestStats
	start := time.Now()

	for _, doc := range docs {
		doc = withID(doc)
		chunks, err := p.chunker.Split(doc)
		if err != nil {
			return stats, fmt.Errorf("failed to chunk %s: %w", doc.Source, err)
		}
		stats.Documents++
		if len(chunks) == 0 {
			stats.Empty++
			p.logger.Warn("document produced no chunks", zap.String("source", doc.Source))
			if err := p.pruneDocument(ctx, doc.ID, nil); err != nil {
				return stats, err
			}
			continue
		}

		if err := p.IngestChunks(ctx, chunks); err != nil {
			return stats, fmt.Errorf("failed to ingest %s: %w", doc.Source, err)
		}
		if err := p.pruneDocument(ctx, doc.ID, chunks); err != nil {
			return stats, err
		}
		stats.Chunks += len(chunks)

		p.logger.Info("ingested document",
			zap.String("source", doc.Source),
			zap.Int("pages", len(doc.Pages)),
			zap.Int("chunks", len(chunks)),
		)
	}

	p.logger.Info("ingestion finished",
		zap.Int("documents", stats.Documents),
		zap.Int("chunks", stats.Chunks),
		zap.Duration("elapsed", time.Since(start)),
	)
	return stats, nil
}

// IngestChunks embeds and indexes already chunked text.
func (p *Pipeline) IngestChunks(ctx context.Context, chunks []Chunk) error {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}

	vectors, err := EmbedAll(ctx, p.embedder, texts, p.batchSize)
	if err != nil {
		return fmt.Errorf("failed to embed chunks: %w", err)
	}

	if err := p.store.Put(ctx, chunks); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	for i, ch := range chunks {
		if err := p.index.Insert(ctx, ch.ID, vectors[i]); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", ch.ID, err)
		}
	}
	return nil
}

// pruneDocument drops the chunks of documentID that the latest ingestion
// did not produce. Vectors go first so no index hit points at a missing
// chunk.
func (p *Pipeline) pruneDocument(ctx context.Context, documentID string, current []Chunk) error {
	chunks, ok := p.store.(DocumentChunks)
	if !ok {
		return nil
	}
	remover, ok := unwrapIndex(p.index).(Remover)
	if !ok {
		return nil
	}

	ids, err := chunks.ChunkIDs(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to list chunks of document %s: %w", documentID, err)
	}
	keep := make(map[string]bool, len(current))
	for _, ch := range current {
		keep[ch.ID] = true
	}
	var stale []string
	for _, id := range ids {
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	if err := remover.Remove(ctx, stale); err != nil {
		return fmt.Errorf("failed to remove stale vectors: %w", err)
	}
	if err := chunks.Delete(ctx, stale); err != nil {
		return fmt.Errorf("failed to remove stale chunks: %w", err)
	}
	p.logger.Debug("pruned stale chunks",
		zap.String("document_id", documentID),
		zap.Int("chunks", len(stale)),
	)
	return nil
}

// Search retrieves the k chunks nearest to query.
func (p *Pipeline) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	return p.retriever.Retrieve(ctx, query, k)
}

// Ask retrieves k chunks for question and generates an answer from them.
func (p *Pipeline) Ask(ctx context.Context, question string, k int) (*Answer, error) {
	if p.generator == nil {
		return nil, ErrNoGenerator
	}
	question = strings.TrimSpace(question)

	results, err := p.retriever.Retrieve(ctx, question, k)
	if err != nil {
		return nil, err
	}

	prompt := BuildPrompt(question, results)
	text, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	p.logger.Info("answered question",
		zap.Int("sources", len(results)),
		zap.Int("prompt_bytes", len(prompt)),
	)
	return &Answer{Question: question, Text: strings.TrimSpace(text), Sources: results}, nil
}

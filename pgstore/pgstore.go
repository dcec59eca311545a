// Package pgstore keeps chunks and their embeddings in PostgreSQL with the
// pgvector extension. A Store implements both rag.Index and rag.ChunkStore.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"go-rag-pipeline/rag"
)

type options struct {
	metric rag.Metric
	logger *zap.Logger
}

type Option func(*options)

// WithMetric selects the distance operator used by Query.
func WithMetric(m rag.Metric) Option {
	return func(o *options) {
		o.metric = m
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Store is a pgvector backed index. The vector column has a fixed dimension
// chosen when the schema is created.
type Store struct {
	pool      *pgxpool.Pool
	dimension int
	metric    rag.Metric
	logger    *zap.Logger
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, dimension int, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(pool, dimension, opts...)
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, dimension int, opts ...Option) (*Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", rag.ErrInvalidArgument, dimension)
	}
	o := options{metric: rag.MetricL2, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store{
		pool:      pool,
		dimension: dimension,
		metric:    o.metric,
		logger:    o.logger,
	}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Dimension() int {
	return s.dimension
}

// Migrate creates the extension and tables if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS rag_chunks (
			id          TEXT PRIMARY KEY,
			document_id TEXT NOT NULL DEFAULT '',
			source      TEXT NOT NULL DEFAULT '',
			page        INTEGER NOT NULL DEFAULT 0,
			char_offset INTEGER NOT NULL DEFAULT 0,
			content     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS rag_chunks_document_id_idx ON rag_chunks (document_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rag_embeddings (
			chunk_id  TEXT PRIMARY KEY,
			seq       BIGSERIAL,
			embedding vector(%d) NOT NULL
		)`, s.dimension),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	s.logger.Debug("schema ready", zap.Int("dimension", s.dimension))
	return nil
}

// Insert upserts the embedding of chunkID. Re-inserting keeps the original
// sequence number so ties still resolve by first insertion.
func (s *Store) Insert(ctx context.Context, chunkID string, vector []float32) error {
	if chunkID == "" {
		return fmt.Errorf("%w: empty chunk id", rag.ErrInvalidArgument)
	}
	if err := rag.CheckVector(vector); err != nil {
		return fmt.Errorf("chunk %q: %w", chunkID, err)
	}
	if err := rag.CheckDimension(s.dimension, len(vector)); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO rag_embeddings (chunk_id, embedding) VALUES ($1, $2)
		ON CONFLICT (chunk_id) DO UPDATE SET embedding = EXCLUDED.embedding`,
		chunkID, pgvector.NewVector(vector))
	if err != nil {
		return fmt.Errorf("failed to insert embedding: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, vector []float32, k int) ([]rag.Match, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", rag.ErrInvalidArgument, k)
	}
	if err := rag.CheckVector(vector); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	if err := rag.CheckDimension(s.dimension, len(vector)); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT chunk_id, embedding %s $1 AS distance
		FROM rag_embeddings
		ORDER BY distance, seq
		LIMIT $2`, distanceOperator(s.metric)),
		pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var matches []rag.Match
	for rows.Next() {
		var m rag.Match
		if err := rows.Scan(&m.ChunkID, &m.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read matches: %w", err)
	}
	if len(matches) == 0 {
		return nil, rag.ErrEmptyIndex
	}
	return matches, nil
}

// Put upserts chunk records in one batch.
func (s *Store) Put(ctx context.Context, chunks []rag.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("%w: chunk without id", rag.ErrInvalidArgument)
		}
		batch.Queue(`
			INSERT INTO rag_chunks (id, document_id, source, page, char_offset, content)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				document_id = EXCLUDED.document_id,
				source      = EXCLUDED.source,
				page        = EXCLUDED.page,
				char_offset = EXCLUDED.char_offset,
				content     = EXCLUDED.content`,
			c.ID, c.DocumentID, c.Source, c.Page, c.Offset, c.Content)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (rag.Chunk, error) {
	var c rag.Chunk
	err := s.pool.QueryRow(ctx, `
		SELECT id, document_id, source, page, char_offset, content
		FROM rag_chunks WHERE id = $1`, id).
		Scan(&c.ID, &c.DocumentID, &c.Source, &c.Page, &c.Offset, &c.Content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rag.Chunk{}, fmt.Errorf("chunk %q: %w", id, rag.ErrNotFound)
		}
		return rag.Chunk{}, fmt.Errorf("failed to get chunk: %w", err)
	}
	return c, nil
}

// ChunkIDs lists the chunks of documentID.
func (s *Store) ChunkIDs(ctx context.Context, documentID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM rag_chunks WHERE document_id = $1 ORDER BY id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk ids: %w", err)
	}
	return ids, nil
}

// Delete removes chunk records. Their embeddings are left to Remove.
func (s *Store) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM rag_chunks WHERE id = ANY($1)`, chunkIDs); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// Remove deletes the embeddings of chunkIDs.
func (s *Store) Remove(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM rag_embeddings WHERE chunk_id = ANY($1)`, chunkIDs); err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}
	return nil
}

// Count returns the number of stored embeddings.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM rag_embeddings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return n, nil
}

func distanceOperator(m rag.Metric) string {
	if m == rag.MetricCosine {
		return "<=>"
	}
	return "<->"
}

var (
	_ rag.Index          = (*Store)(nil)
	_ rag.ChunkStore     = (*Store)(nil)
	_ rag.DocumentChunks = (*Store)(nil)
	_ rag.Remover        = (*Store)(nil)
)

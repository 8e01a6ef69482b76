// Package postgres implements lore.Store using PostgreSQL with pgvector
// for native vector similarity search and tsvector for full-text lexical
// search.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	lore "github.com/halvard/lore"
)

// Store implements lore.Store backed by PostgreSQL with pgvector.
// Vector search uses HNSW indexes with cosine distance.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector column
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
	hnswEFSearch       int // 0 = pgvector default (40)
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536, 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, and
// every vector write is validated against N before it reaches the
// database. Only affects new table creation (no ALTER on existing tables).
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
// Higher values improve recall at the cost of memory. Default: pgvector's 16.
// Only affects index creation (CREATE INDEX IF NOT EXISTS).
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter (build-time
// candidate list size). Higher values improve index quality at the cost of
// slower builds. Default: pgvector's 64.
// Only affects index creation (CREATE INDEX IF NOT EXISTS).
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

// WithEFSearch sets the HNSW ef_search parameter (query-time candidate list
// size). Higher values improve recall at the cost of latency. Default:
// pgvector's 40. Applied via SET during Init().
func WithEFSearch(ef int) Option {
	return func(c *pgConfig) { c.hnswEFSearch = ef }
}

var _ lore.Store = (*Store)(nil)
var _ lore.LexicalSearcher = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

// vectorType returns "vector" or "vector(N)" depending on config.
func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

// hnswWithClause returns the WITH (...) clause for HNSW index creation,
// or an empty string if no tuning params are set.
func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// checkDimension rejects vectors whose width disagrees with the
// configured column dimension, before they reach the database.
func (s *Store) checkDimension(v []float32) error {
	if s.cfg.embeddingDimension > 0 && len(v) != s.cfg.embeddingDimension {
		return &lore.ErrDimensionMismatch{Want: s.cfg.embeddingDimension, Got: len(v)}
	}
	return nil
}

// Init creates the pgvector extension, all required tables, and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	vtype := s.vectorType()
	hnswWith := s.hnswWithClause()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			source TEXT NOT NULL,
			metadata JSONB,
			created_at BIGINT NOT NULL
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			content TEXT NOT NULL,
			chunk_type TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			metadata JSONB,
			embed_phase TEXT NOT NULL DEFAULT 'pending',
			vector_text TEXT,
			embedding %s,
			fail_reason TEXT
		)`, vtype),
		`CREATE INDEX IF NOT EXISTS chunks_document_idx ON chunks(document_id, chunk_index)`,
		`CREATE INDEX IF NOT EXISTS chunks_phase_idx ON chunks(embed_phase)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS chunks_embedding_idx ON chunks USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),
		`CREATE INDEX IF NOT EXISTS chunks_fts_idx ON chunks USING gin(to_tsvector('english', content))`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}

	if s.cfg.hnswEFSearch > 0 {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("SET hnsw.ef_search = %d", s.cfg.hnswEFSearch)); err != nil {
			return fmt.Errorf("postgres: set ef_search: %w", err)
		}
	}
	return nil
}

// SaveDocument inserts a document and all its chunks in a single
// transaction, replacing any previous version of the document.
func (s *Store) SaveDocument(ctx context.Context, doc lore.Document, chunks []lore.Chunk) error {
	for _, chunk := range chunks {
		if v := chunk.Embedding.Vector(); len(v) > 0 {
			if err := s.checkDimension(v); err != nil {
				return err
			}
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var metaJSON *string
	if len(doc.Metadata) > 0 {
		data, _ := json.Marshal(doc.Metadata)
		v := string(data)
		metaJSON = &v
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO documents (id, title, source, metadata, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   title = EXCLUDED.title,
		   source = EXCLUDED.source,
		   metadata = EXCLUDED.metadata,
		   created_at = EXCLUDED.created_at`,
		doc.ID, doc.Title, doc.Source, metaJSON, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert document: %w", err)
	}

	// Replace, not merge: re-ingesting a document drops the old chunks.
	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, doc.ID); err != nil {
		return fmt.Errorf("postgres: clear document chunks: %w", err)
	}

	for _, chunk := range chunks {
		if err := insertChunk(ctx, tx, chunk); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

func insertChunk(ctx context.Context, tx pgx.Tx, chunk lore.Chunk) error {
	metaJSON, _ := json.Marshal(chunk.Meta)

	var vectorText, failReason *string
	var embStr *string
	switch chunk.Embedding.Phase() {
	case lore.EmbeddingReadyPhase:
		v := serializeEmbedding(chunk.Embedding.Vector())
		embStr = &v
	case lore.EmbeddingFailedPhase:
		r := chunk.Embedding.Reason()
		failReason = &r
	default:
		if vt := chunk.Embedding.VectorText(); vt != "" {
			vectorText = &vt
		}
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO chunks (id, document_id, content, chunk_type, chunk_index, metadata, embed_phase, vector_text, embedding, fail_reason)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9::vector, $10)`,
		chunk.ID, chunk.DocumentID, chunk.Content, string(chunk.Type), chunk.ChunkIndex,
		string(metaJSON), string(chunk.Embedding.Phase()), vectorText, embStr, failReason)
	if err != nil {
		return fmt.Errorf("postgres: insert chunk: %w", err)
	}
	return nil
}

// GetDocument returns a document by ID, or lore.ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (lore.Document, error) {
	var d lore.Document
	var metaJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, source, metadata, created_at FROM documents WHERE id = $1`, id,
	).Scan(&d.ID, &d.Title, &d.Source, &metaJSON, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return lore.Document{}, fmt.Errorf("postgres: get document %s: %w", id, lore.ErrNotFound)
	}
	if err != nil {
		return lore.Document{}, fmt.Errorf("postgres: get document: %w", err)
	}
	if metaJSON != nil {
		_ = json.Unmarshal(metaJSON, &d.Metadata)
	}
	return d, nil
}

// GetChunksByDocument returns all chunks belonging to a document,
// ordered by chunk index, with their full embedding state.
func (s *Store) GetChunksByDocument(ctx context.Context, documentID string) ([]lore.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, content, chunk_type, chunk_index, metadata, embed_phase, vector_text, embedding::text, fail_reason
		 FROM chunks WHERE document_id = $1 ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get chunks by document: %w", err)
	}
	defer rows.Close()

	var chunks []lore.Chunk
	for rows.Next() {
		c, err := scanChunk(rows, nil)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteDocument removes a document and all its chunks in a single transaction.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete document chunks: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete document: %w", err)
	}
	return tx.Commit(ctx)
}

// VectorSearch performs vector similarity search over chunks holding a
// ready embedding, using pgvector's cosine distance operator with the
// HNSW index.
func (s *Store) VectorSearch(ctx context.Context, embedding []float32, topK int) ([]lore.RankedChunk, error) {
	if topK <= 0 {
		return nil, nil
	}
	if err := s.checkDimension(embedding); err != nil {
		return nil, err
	}
	embStr := serializeEmbedding(embedding)
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, content, chunk_type, chunk_index, metadata, embed_phase, vector_text, embedding::text, fail_reason,
		        1 - (embedding <=> $1::vector) AS score
		 FROM chunks
		 WHERE embed_phase = 'ready' AND embedding IS NOT NULL
		 ORDER BY embedding <=> $1::vector
		 LIMIT $2`,
		embStr, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search: %w", err)
	}
	defer rows.Close()

	var results []lore.RankedChunk
	for rows.Next() {
		var score float64
		c, err := scanChunk(rows, &score)
		if err != nil {
			return nil, err
		}
		results = append(results, lore.RankedChunk{Chunk: c, Score: score})
	}
	return results, rows.Err()
}

// LexicalSearch performs full-text search over chunk content using
// PostgreSQL tsvector/tsquery with a GIN index, ranked by ts_rank.
func (s *Store) LexicalSearch(ctx context.Context, query string, topK int) ([]lore.RankedChunk, error) {
	if strings.TrimSpace(query) == "" || topK <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, content, chunk_type, chunk_index, metadata, embed_phase, vector_text, embedding::text, fail_reason,
		        ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)) AS score
		 FROM chunks
		 WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $1)
		 ORDER BY score DESC
		 LIMIT $2`,
		query, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres: lexical search: %w", err)
	}
	defer rows.Close()

	var results []lore.RankedChunk
	for rows.Next() {
		var score float64
		c, err := scanChunk(rows, &score)
		if err != nil {
			return nil, err
		}
		results = append(results, lore.RankedChunk{Chunk: c, Score: score})
	}
	return results, rows.Err()
}

// BulkUpdateVectors transitions pending chunks to ready in a single
// transaction.
func (s *Store) BulkUpdateVectors(ctx context.Context, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	for _, v := range vectors {
		if err := s.checkDimension(v); err != nil {
			return err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for id, v := range vectors {
		_, err := tx.Exec(ctx,
			`UPDATE chunks SET embed_phase = 'ready', embedding = $1::vector, vector_text = NULL, fail_reason = NULL
			 WHERE id = $2 AND embed_phase = 'pending'`,
			serializeEmbedding(v), id)
		if err != nil {
			return fmt.Errorf("postgres: update vector: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// MarkChunksFailed transitions pending chunks to failed with reason.
// Chunks already ready or failed are left untouched.
func (s *Store) MarkChunksFailed(ctx context.Context, chunkIDs []string, reason string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE chunks SET embed_phase = 'failed', fail_reason = $1, embedding = NULL
		 WHERE id = ANY($2) AND embed_phase = 'pending'`,
		reason, chunkIDs)
	if err != nil {
		return fmt.Errorf("postgres: mark chunks failed: %w", err)
	}
	return nil
}

// Close is a no-op. The caller owns the pool and manages its lifecycle.
func (s *Store) Close() error {
	return nil
}

// --- Row scanning ---

// scanChunk reads one chunk row. When score is non-nil the row carries a
// trailing score column.
func scanChunk(rows pgx.Rows, score *float64) (lore.Chunk, error) {
	var c lore.Chunk
	var metaJSON []byte
	var phase string
	var vectorText, embStr, failReason *string

	dest := []any{&c.ID, &c.DocumentID, &c.Content, (*string)(&c.Type), &c.ChunkIndex,
		&metaJSON, &phase, &vectorText, &embStr, &failReason}
	if score != nil {
		dest = append(dest, score)
	}
	if err := rows.Scan(dest...); err != nil {
		return lore.Chunk{}, fmt.Errorf("postgres: scan chunk: %w", err)
	}

	if metaJSON != nil {
		_ = json.Unmarshal(metaJSON, &c.Meta)
	}
	switch lore.EmbeddingPhase(phase) {
	case lore.EmbeddingReadyPhase:
		if embStr == nil {
			c.Embedding = lore.FailedEmbedding("stored vector missing")
			break
		}
		v, err := deserializeEmbedding(*embStr)
		if err != nil {
			c.Embedding = lore.FailedEmbedding("stored vector unreadable")
			break
		}
		c.Embedding = lore.ReadyEmbedding(v)
	case lore.EmbeddingFailedPhase:
		var reason string
		if failReason != nil {
			reason = *failReason
		}
		c.Embedding = lore.FailedEmbedding(reason)
	default:
		var vt string
		if vectorText != nil {
			vt = *vectorText
		}
		c.Embedding = lore.PendingEmbedding(vt)
	}
	return c, nil
}

// --- Helpers ---

// serializeEmbedding converts []float32 to a string like "[0.1,0.2,0.3]"
// suitable for pgvector's text input format.
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// deserializeEmbedding parses pgvector's text format back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("postgres: malformed vector %q", s)
	}
	s = strings.Trim(s, "[]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("postgres: parse vector component: %w", err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// Package sqlite implements lore.Store using pure-Go SQLite with
// in-process brute-force vector search and an FTS5 lexical index.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	lore "github.com/halvard/lore"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements lore.Store backed by a local SQLite file.
// Embeddings are stored as JSON text and vector search is done
// in-process using brute-force cosine similarity. Lexical search is
// served by an FTS5 virtual table kept in sync on every write.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ lore.Store = (*Store)(nil)
var _ lore.LexicalSearcher = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// dimensionKey is the config-table key recording the embedding width the
// store was first written with. Every later vector write is validated
// against it.
const dimensionKey = "embedding_dimensions"

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables and indexes.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			source TEXT NOT NULL,
			metadata TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			content TEXT NOT NULL,
			chunk_type TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			metadata TEXT,
			embed_phase TEXT NOT NULL DEFAULT 'pending',
			vector_text TEXT,
			embedding TEXT,
			fail_reason TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, chunk_index)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_chunks_phase ON chunks(embed_phase)`)

	// FTS5 full-text index for lexical search over chunks.
	if _, err := s.db.ExecContext(ctx, `CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(chunk_id UNINDEXED, content)`); err != nil {
		return fmt.Errorf("create fts table: %w", err)
	}

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// SaveDocument stores a document and all its chunks in a single
// transaction, replacing any previous version of the document. Ready
// embeddings are validated against the recorded dimension; the first
// ready vector ever written fixes it.
func (s *Store) SaveDocument(ctx context.Context, doc lore.Document, chunks []lore.Chunk) error {
	start := time.Now()
	s.logger.Debug("sqlite: save document", "id", doc.ID, "title", doc.Title, "source", doc.Source, "chunks", len(chunks))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	dim, err := s.recordedDimension(ctx, tx)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		if v := chunk.Embedding.Vector(); len(v) > 0 {
			if dim, err = s.checkDimension(ctx, tx, dim, len(v)); err != nil {
				return err
			}
		}
	}

	var metaJSON *string
	if len(doc.Metadata) > 0 {
		data, _ := json.Marshal(doc.Metadata)
		v := string(data)
		metaJSON = &v
	}
	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (id, title, source, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Source, metaJSON, doc.CreatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: insert document failed", "id", doc.ID, "error", err)
		return fmt.Errorf("insert document: %w", err)
	}

	// Replace, not merge: drop the previous version's chunks and their
	// FTS rows before inserting the new set.
	_, err = tx.ExecContext(ctx,
		`DELETE FROM chunks_fts WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)`, doc.ID)
	if err != nil {
		return fmt.Errorf("clear document fts: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("clear document chunks: %w", err)
	}

	for _, chunk := range chunks {
		if err := insertChunk(ctx, tx, chunk); err != nil {
			s.logger.Error("sqlite: insert chunk failed", "chunk_id", chunk.ID, "doc_id", doc.ID, "error", err)
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: save document commit failed", "id", doc.ID, "error", err)
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: save document ok", "id", doc.ID, "chunks", len(chunks), "duration", time.Since(start))
	return nil
}

func insertChunk(ctx context.Context, tx *sql.Tx, chunk lore.Chunk) error {
	metaJSON, _ := json.Marshal(chunk.Meta)

	var vectorText, embJSON, failReason *string
	switch chunk.Embedding.Phase() {
	case lore.EmbeddingReadyPhase:
		v := serializeEmbedding(chunk.Embedding.Vector())
		embJSON = &v
	case lore.EmbeddingFailedPhase:
		r := chunk.Embedding.Reason()
		failReason = &r
	default:
		if vt := chunk.Embedding.VectorText(); vt != "" {
			vectorText = &vt
		}
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO chunks (id, document_id, content, chunk_type, chunk_index, metadata, embed_phase, vector_text, embedding, fail_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chunk.ID, chunk.DocumentID, chunk.Content, string(chunk.Type), chunk.ChunkIndex,
		string(metaJSON), string(chunk.Embedding.Phase()), vectorText, embJSON, failReason,
	)
	if err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO chunks_fts(chunk_id, content) VALUES (?, ?)`, chunk.ID, chunk.Content); err != nil {
		return fmt.Errorf("insert chunk fts: %w", err)
	}
	return nil
}

// GetDocument returns a document by ID, or lore.ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (lore.Document, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get document", "id", id)

	var d lore.Document
	var metaJSON sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, source, metadata, created_at FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.Title, &d.Source, &metaJSON, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Debug("sqlite: get document not found", "id", id, "duration", time.Since(start))
		return lore.Document{}, fmt.Errorf("get document %s: %w", id, lore.ErrNotFound)
	}
	if err != nil {
		s.logger.Error("sqlite: get document failed", "id", id, "error", err, "duration", time.Since(start))
		return lore.Document{}, fmt.Errorf("get document: %w", err)
	}
	if metaJSON.Valid {
		_ = json.Unmarshal([]byte(metaJSON.String), &d.Metadata)
	}
	s.logger.Debug("sqlite: get document ok", "id", id, "duration", time.Since(start))
	return d, nil
}

// GetChunksByDocument returns all chunks belonging to a document,
// ordered by chunk index, with their full embedding state.
func (s *Store) GetChunksByDocument(ctx context.Context, documentID string) ([]lore.Chunk, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get chunks by document", "doc_id", documentID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, content, chunk_type, chunk_index, metadata, embed_phase, vector_text, embedding, fail_reason
		 FROM chunks WHERE document_id = ? ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("get chunks by document: %w", err)
	}
	defer rows.Close()

	var chunks []lore.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	s.logger.Debug("sqlite: get chunks by document ok", "doc_id", documentID, "count", len(chunks), "duration", time.Since(start))
	return chunks, rows.Err()
}

// DeleteDocument removes a document, its chunks, and associated FTS entries.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	start := time.Now()
	s.logger.Debug("sqlite: delete document", "id", id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`DELETE FROM chunks_fts WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)`, id)
	if err != nil {
		return fmt.Errorf("delete document fts: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("delete document chunks: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: delete document commit failed", "id", id, "error", err)
		return err
	}
	s.logger.Debug("sqlite: delete document ok", "id", id, "duration", time.Since(start))
	return nil
}

// VectorSearch performs brute-force cosine similarity search over chunks
// holding a ready embedding.
func (s *Store) VectorSearch(ctx context.Context, embedding []float32, topK int) ([]lore.RankedChunk, error) {
	start := time.Now()
	s.logger.Debug("sqlite: vector search", "top_k", topK, "embedding_dim", len(embedding))

	if topK <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, content, chunk_type, chunk_index, metadata, embed_phase, vector_text, embedding, fail_reason
		 FROM chunks WHERE embed_phase = 'ready'`)
	if err != nil {
		s.logger.Error("sqlite: vector search failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var results []lore.RankedChunk
	scanned := 0
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		scanned++
		stored := c.Embedding.Vector()
		if len(stored) == 0 {
			continue
		}
		results = append(results, lore.RankedChunk{Chunk: c, Score: cosineSimilarity(embedding, stored)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	s.logger.Debug("sqlite: vector search ok", "scanned", scanned, "returned", len(results), "duration", time.Since(start))
	return results, nil
}

// LexicalSearch performs full-text search over chunk content using
// SQLite FTS5, ordered by relevance (FTS5 rank).
func (s *Store) LexicalSearch(ctx context.Context, query string, topK int) ([]lore.RankedChunk, error) {
	start := time.Now()
	s.logger.Debug("sqlite: lexical search", "query", query, "top_k", topK)

	match := ftsQuery(query)
	if match == "" || topK <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.document_id, c.content, c.chunk_type, c.chunk_index, c.metadata, c.embed_phase, c.vector_text, c.embedding, c.fail_reason, f.rank
		 FROM chunks_fts f
		 JOIN chunks c ON c.id = f.chunk_id
		 WHERE chunks_fts MATCH ?
		 ORDER BY f.rank LIMIT ?`,
		match, topK,
	)
	if err != nil {
		s.logger.Error("sqlite: lexical search failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var results []lore.RankedChunk
	for rows.Next() {
		var c lore.Chunk
		var metaJSON, vectorText, embJSON, failReason sql.NullString
		var phase string
		var rank float64
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, (*string)(&c.Type), &c.ChunkIndex,
			&metaJSON, &phase, &vectorText, &embJSON, &failReason, &rank); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		hydrateChunk(&c, metaJSON, phase, vectorText, embJSON, failReason)
		// FTS5 rank is negative (closer to 0 = better). Use -rank as score.
		score := -rank
		if score < 0 {
			score = 0
		}
		results = append(results, lore.RankedChunk{Chunk: c, Score: score})
	}
	s.logger.Debug("sqlite: lexical search ok", "returned", len(results), "duration", time.Since(start))
	return results, rows.Err()
}

// BulkUpdateVectors transitions pending chunks to ready in a single
// transaction. Vector widths are validated against the recorded
// dimension before anything is written.
func (s *Store) BulkUpdateVectors(ctx context.Context, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	start := time.Now()
	s.logger.Debug("sqlite: bulk update vectors", "count", len(vectors))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	dim, err := s.recordedDimension(ctx, tx)
	if err != nil {
		return err
	}
	for _, v := range vectors {
		if dim, err = s.checkDimension(ctx, tx, dim, len(v)); err != nil {
			return err
		}
	}

	updated := 0
	for id, v := range vectors {
		res, err := tx.ExecContext(ctx,
			`UPDATE chunks SET embed_phase = 'ready', embedding = ?, vector_text = NULL, fail_reason = NULL
			 WHERE id = ? AND embed_phase = 'pending'`,
			serializeEmbedding(v), id,
		)
		if err != nil {
			s.logger.Error("sqlite: update vector failed", "chunk_id", id, "error", err)
			return fmt.Errorf("update vector: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			updated++
		}
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: bulk update vectors commit failed", "error", err, "duration", time.Since(start))
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: bulk update vectors ok", "requested", len(vectors), "updated", updated, "duration", time.Since(start))
	return nil
}

// MarkChunksFailed transitions pending chunks to failed with reason.
// Chunks already ready or failed are left untouched.
func (s *Store) MarkChunksFailed(ctx context.Context, chunkIDs []string, reason string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	start := time.Now()
	s.logger.Debug("sqlite: mark chunks failed", "count", len(chunkIDs), "reason", reason)

	placeholders := make([]string, len(chunkIDs))
	args := []any{reason}
	for i, id := range chunkIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := fmt.Sprintf(
		`UPDATE chunks SET embed_phase = 'failed', fail_reason = ?, embedding = NULL
		 WHERE id IN (%s) AND embed_phase = 'pending'`,
		strings.Join(placeholders, ","),
	)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("sqlite: mark chunks failed errored", "error", err, "duration", time.Since(start))
		return fmt.Errorf("mark chunks failed: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Debug("sqlite: mark chunks failed ok", "requested", len(chunkIDs), "updated", n, "duration", time.Since(start))
	return nil
}

// DB returns the underlying *sql.DB for callers that need to run their
// own queries through the same serialized connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}

// --- Dimension guard ---

// recordedDimension returns the embedding width recorded in the config
// table, or 0 when no vector has been written yet.
func (s *Store) recordedDimension(ctx context.Context, tx *sql.Tx) (int, error) {
	var value string
	err := tx.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, dimensionKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read dimension: %w", err)
	}
	dim, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse dimension %q: %w", value, err)
	}
	return dim, nil
}

// checkDimension validates got against the recorded width, recording it
// on first use. Returns the (possibly newly recorded) width.
func (s *Store) checkDimension(ctx context.Context, tx *sql.Tx, recorded, got int) (int, error) {
	if recorded == 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO config (key, value) VALUES (?, ?)`,
			dimensionKey, strconv.Itoa(got),
		); err != nil {
			return 0, fmt.Errorf("record dimension: %w", err)
		}
		s.logger.Debug("sqlite: embedding dimension recorded", "dimensions", got)
		return got, nil
	}
	if got != recorded {
		return recorded, &lore.ErrDimensionMismatch{Want: recorded, Got: got}
	}
	return recorded, nil
}

// --- Row scanning ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(rows rowScanner) (lore.Chunk, error) {
	var c lore.Chunk
	var metaJSON, vectorText, embJSON, failReason sql.NullString
	var phase string
	if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, (*string)(&c.Type), &c.ChunkIndex,
		&metaJSON, &phase, &vectorText, &embJSON, &failReason); err != nil {
		return lore.Chunk{}, fmt.Errorf("scan chunk: %w", err)
	}
	hydrateChunk(&c, metaJSON, phase, vectorText, embJSON, failReason)
	return c, nil
}

// hydrateChunk rebuilds metadata and embedding state from their stored
// columns. An unreadable embedding degrades to failed rather than
// aborting the whole scan.
func hydrateChunk(c *lore.Chunk, metaJSON sql.NullString, phase string, vectorText, embJSON, failReason sql.NullString) {
	if metaJSON.Valid {
		_ = json.Unmarshal([]byte(metaJSON.String), &c.Meta)
	}
	switch lore.EmbeddingPhase(phase) {
	case lore.EmbeddingReadyPhase:
		if !embJSON.Valid {
			c.Embedding = lore.FailedEmbedding("stored vector missing")
			return
		}
		v, err := deserializeEmbedding(embJSON.String)
		if err != nil {
			c.Embedding = lore.FailedEmbedding("stored vector unreadable")
			return
		}
		c.Embedding = lore.ReadyEmbedding(v)
	case lore.EmbeddingFailedPhase:
		c.Embedding = lore.FailedEmbedding(failReason.String)
	default:
		c.Embedding = lore.PendingEmbedding(vectorText.String)
	}
}

// --- FTS helpers ---

// ftsQuery converts free-form user input into an FTS5 match expression.
// Each term is double-quoted so query punctuation cannot break the FTS5
// expression grammar; terms combine with the implicit AND.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " ")
}

// --- Vector math ---

// cosineSimilarity computes the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// serializeEmbedding converts []float32 to a JSON array string.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}

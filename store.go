package lore

import "context"

// Store abstracts chunk persistence with vector search. Implementations
// that also index content lexically additionally satisfy LexicalSearcher;
// the retriever discovers that capability by type assertion.
type Store interface {
	// --- Documents + chunks ---

	// SaveDocument stores doc and its chunks atomically, replacing any
	// previous version of the document.
	SaveDocument(ctx context.Context, doc Document, chunks []Chunk) error
	// GetDocument returns a document by ID, or ErrNotFound.
	GetDocument(ctx context.Context, id string) (Document, error)
	// GetChunksByDocument returns a document's chunks ordered by
	// chunk index.
	GetChunksByDocument(ctx context.Context, documentID string) ([]Chunk, error)
	// DeleteDocument removes a document and all of its chunks.
	DeleteDocument(ctx context.Context, id string) error

	// --- Search ---

	// VectorSearch returns up to topK chunks nearest to embedding by
	// cosine similarity, best first. Chunks without a ready vector are
	// never returned.
	VectorSearch(ctx context.Context, embedding []float32, topK int) ([]RankedChunk, error)

	// --- Embedding lifecycle ---

	// BulkUpdateVectors transitions pending chunks to ready in one
	// transaction. Keys are chunk IDs.
	BulkUpdateVectors(ctx context.Context, vectors map[string][]float32) error
	// MarkChunksFailed transitions pending chunks to failed with reason.
	MarkChunksFailed(ctx context.Context, chunkIDs []string, reason string) error

	// --- Lifecycle ---

	Init(ctx context.Context) error
	Close() error
}

// LexicalSearcher is the optional full-text capability of a Store.
type LexicalSearcher interface {
	// LexicalSearch returns up to topK chunks matching query by lexical
	// relevance, best first. An empty result is not an error.
	LexicalSearch(ctx context.Context, query string, topK int) ([]RankedChunk, error)
}

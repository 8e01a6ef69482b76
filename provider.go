package lore

import "context"

// EmbeddingProvider abstracts text embedding. Document and query
// embedding are separate calls so providers that optimize asymmetric
// retrieval (distinct task types or models) can do so.
type EmbeddingProvider interface {
	// EmbedDocuments returns one vector per input text, same order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery returns the vector for a search query.
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the provider name (e.g. "openai").
	Name() string
}

// MediaAnalyzer produces a textual description for a media reference so
// media chunks have meaningful embedding text. Optional: ingestion works
// without one, leaving media chunks pending.
type MediaAnalyzer interface {
	// Describe returns a description of the media at ref. AltText, when
	// present, is a hint from the source document.
	Describe(ctx context.Context, ref string, altText string) (string, error)
}

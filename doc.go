// Package lore is a local-first semantic knowledge base for Go.
//
// Documents are parsed into typed segments, split into immutable chunks
// under size budgets, embedded through an external provider, persisted
// in a store with vector and lexical search primitives, and queried
// through a hybrid retriever that fuses both ranked lists with
// Reciprocal Rank Fusion.
//
// # Quick Start
//
//	store := sqlite.New("lore.db", sqlite.WithDimensions(1536))
//	embedding := openai.NewEmbedding(apiKey)
//
//	ing := ingest.New(store, embedding,
//		ingest.WithContextStrategy(ingest.HierarchicalContext{}),
//	)
//	doc, err := ing.IngestFile(ctx, "notes/kubernetes.md")
//
//	retriever := lore.NewHybridRetriever(store, embedding)
//	results, err := retriever.Search(ctx, "ingress setup", lore.SearchOptions{Limit: 5})
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Store] — chunk persistence with vector search
//   - [LexicalSearcher] — optional full-text capability of a Store
//   - [EmbeddingProvider] — text-to-vector embedding
//   - [BatchEmbeddingProvider] — asynchronous batch embedding
//   - [MediaAnalyzer] — media-reference description for embedding text
//   - [Searcher] — ranked retrieval over a knowledge base
//
// # Included Implementations
//
// Storage: store/sqlite (local, FTS5), store/postgres (pgvector).
// Embeddings: provider/openai.
// Instrumentation: observer (OpenTelemetry wrappers).
package lore

package ingest

import (
	"log/slog"

	lore "github.com/halvard/lore"
)

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithSplitter replaces the default splitter.
func WithSplitter(s *Splitter) Option {
	return func(ing *Ingestor) { ing.splitter = s }
}

// WithContextStrategy sets how chunk embedding text is derived.
// Default is HierarchicalContext.
func WithContextStrategy(cs ContextStrategy) Option {
	return func(ing *Ingestor) { ing.strategy = cs }
}

// WithMediaAnalyzer enables media description enrichment during ingest.
func WithMediaAnalyzer(a lore.MediaAnalyzer) Option {
	return func(ing *Ingestor) { ing.analyzer = a }
}

// WithMediaWorkers bounds the media enrichment worker pool. Default 4.
func WithMediaWorkers(n int) Option {
	return func(ing *Ingestor) { ing.mediaWorkers = n }
}

// WithBatchSize sets how many vector texts go to the embedding provider
// per call. Default 64.
func WithBatchSize(n int) Option {
	return func(ing *Ingestor) {
		if n > 0 {
			ing.batchSize = n
		}
	}
}

// WithDeferredEmbedding skips synchronous embedding: chunks are stored
// pending with their vector text, for a Reconciler and a batch provider
// to pick up later.
func WithDeferredEmbedding() Option {
	return func(ing *Ingestor) { ing.deferred = true }
}

// WithExtractor registers or replaces the extractor for a content type.
func WithExtractor(ct ContentType, e Extractor) Option {
	return func(ing *Ingestor) { ing.extractors[ct] = e }
}

// WithLogger sets the logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(ing *Ingestor) { ing.log = l }
}

package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lore "github.com/halvard/lore"
)

// IngestResult holds the outcome of an ingest operation.
type IngestResult struct {
	DocumentID string
	Document   lore.Document
	ChunkCount int
	// PendingCount is how many chunks were stored without a vector:
	// deferred embedding, media without description, or provider
	// failures left for a later reconcile.
	PendingCount int
}

// Ingestor provides end-to-end ingestion: extract, parse, split, enrich,
// embed, store.
type Ingestor struct {
	store        lore.Store
	embedding    lore.EmbeddingProvider
	parser       *Parser
	splitter     *Splitter
	strategy     ContextStrategy
	analyzer     lore.MediaAnalyzer
	extractors   map[ContentType]Extractor
	batchSize    int
	mediaWorkers int
	deferred     bool
	log          *slog.Logger
}

// New creates an Ingestor with sensible defaults.
func New(store lore.Store, emb lore.EmbeddingProvider, opts ...Option) *Ingestor {
	ing := &Ingestor{
		store:     store,
		embedding: emb,
		parser:    NewParser(),
		splitter:  NewSplitter(),
		strategy:  HierarchicalContext{},
		extractors: map[ContentType]Extractor{
			TypePlainText: PlainTextExtractor{},
			TypeMarkdown:  MarkdownExtractor{},
			TypeHTML:      HTMLExtractor{},
			TypePDF:       NewPDFExtractor(),
		},
		batchSize:    64,
		mediaWorkers: 4,
		log:          nopLogger,
	}
	for _, o := range opts {
		o(ing)
	}
	return ing
}

// IngestText ingests markdown (or plain) text content.
func (ing *Ingestor) IngestText(ctx context.Context, text, source, title string, metadata map[string]string) (IngestResult, error) {
	doc := lore.Document{
		ID:        lore.NewID(),
		Title:     title,
		Source:    source,
		Metadata:  lore.CloneMetadata(metadata),
		CreatedAt: lore.NowUnix(),
	}
	return ing.ingest(ctx, doc, []byte(text))
}

// IngestBytes ingests raw file content, detecting the content type from
// the filename extension.
func (ing *Ingestor) IngestBytes(ctx context.Context, content []byte, filename string, metadata map[string]string) (IngestResult, error) {
	ct := ContentTypeFromExtension(strings.TrimPrefix(filepath.Ext(filename), "."))
	extractor, ok := ing.extractors[ct]
	if !ok {
		extractor = PlainTextExtractor{}
	}
	text, err := extractor.Extract(content)
	if err != nil {
		return IngestResult{}, fmt.Errorf("extract %s: %w", ct, err)
	}

	doc := lore.Document{
		ID:        lore.NewID(),
		Title:     filepath.Base(filename),
		Source:    filename,
		Metadata:  lore.CloneMetadata(metadata),
		CreatedAt: lore.NowUnix(),
	}
	return ing.ingest(ctx, doc, []byte(text))
}

// IngestFile reads and ingests a file from disk.
func (ing *Ingestor) IngestFile(ctx context.Context, path string, metadata map[string]string) (IngestResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return IngestResult{}, fmt.Errorf("read %s: %w", path, err)
	}
	return ing.IngestBytes(ctx, content, path, metadata)
}

// IngestReader reads all content from r and ingests it, detecting the
// content type from filename.
func (ing *Ingestor) IngestReader(ctx context.Context, r io.Reader, filename string, metadata map[string]string) (IngestResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return IngestResult{}, fmt.Errorf("read: %w", err)
	}
	return ing.IngestBytes(ctx, data, filename, metadata)
}

func (ing *Ingestor) ingest(ctx context.Context, doc lore.Document, source []byte) (IngestResult, error) {
	segments := ing.parser.Parse(source)
	chunks := ing.splitter.Split(doc.ID, doc.Metadata, segments)

	if ing.analyzer != nil {
		enrichMedia(ctx, ing.analyzer, chunks, ing.mediaWorkers, ing.log)
	}

	for i := range chunks {
		chunks[i].Embedding = lore.PendingEmbedding(ing.strategy.VectorText(chunks[i]))
	}

	if !ing.deferred {
		ing.embedChunks(ctx, chunks)
	}

	if err := ing.store.SaveDocument(ctx, doc, chunks); err != nil {
		return IngestResult{}, fmt.Errorf("store: %w", err)
	}

	pending := 0
	for _, c := range chunks {
		if c.Embedding.Phase() == lore.EmbeddingPendingPhase {
			pending++
		}
	}
	ing.log.Info("document ingested",
		"document_id", doc.ID, "source", doc.Source,
		"chunks", len(chunks), "pending", pending)

	return IngestResult{
		DocumentID:   doc.ID,
		Document:     doc,
		ChunkCount:   len(chunks),
		PendingCount: pending,
	}, nil
}

// embedChunks embeds pending chunks in batches. A provider failure
// leaves the batch pending rather than failing the ingest: the document
// stays lexically searchable and a Reconciler can embed it later.
// Vectors of the wrong dimension mark their chunk failed.
func (ing *Ingestor) embedChunks(ctx context.Context, chunks []lore.Chunk) {
	var idx []int
	var texts []string
	for i, c := range chunks {
		if c.Embedding.Phase() != lore.EmbeddingPendingPhase {
			continue
		}
		if c.Embedding.VectorText() == "" {
			continue // nothing meaningful to embed; stays pending
		}
		idx = append(idx, i)
		texts = append(texts, c.Embedding.VectorText())
	}

	dims := ing.embedding.Dimensions()
	for start := 0; start < len(idx); start += ing.batchSize {
		end := min(start+ing.batchSize, len(idx))

		vectors, err := ing.embedding.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			ing.log.Warn("embedding batch failed, chunks stay pending",
				"batch_start", start, "batch_end", end, "err", err)
			continue
		}
		for j, vec := range vectors {
			if start+j >= len(idx) {
				break
			}
			i := idx[start+j]
			switch {
			case len(vec) == 0:
				chunks[i].Embedding = lore.FailedEmbedding("empty vector from provider")
			case dims > 0 && len(vec) != dims:
				ing.log.Warn("embedding dimension mismatch",
					"chunk_id", chunks[i].ID, "want", dims, "got", len(vec))
				chunks[i].Embedding = lore.FailedEmbedding(
					fmt.Sprintf("dimension mismatch: want %d, got %d", dims, len(vec)))
			default:
				chunks[i].Embedding = lore.ReadyEmbedding(vec)
			}
		}
	}
}

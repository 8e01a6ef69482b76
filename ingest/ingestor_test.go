package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	lore "github.com/halvard/lore"
)

// memStore records the last saved document for assertions.
type memStore struct {
	mu     sync.Mutex
	doc    lore.Document
	chunks []lore.Chunk
}

func (s *memStore) SaveDocument(_ context.Context, doc lore.Document, chunks []lore.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
	s.chunks = append([]lore.Chunk(nil), chunks...)
	return nil
}

func (s *memStore) GetDocument(context.Context, string) (lore.Document, error) {
	return s.doc, nil
}

func (s *memStore) GetChunksByDocument(context.Context, string) ([]lore.Chunk, error) {
	return s.chunks, nil
}

func (s *memStore) DeleteDocument(context.Context, string) error { return nil }

func (s *memStore) VectorSearch(context.Context, []float32, int) ([]lore.RankedChunk, error) {
	return nil, nil
}

func (s *memStore) BulkUpdateVectors(context.Context, map[string][]float32) error { return nil }
func (s *memStore) MarkChunksFailed(context.Context, []string, string) error      { return nil }
func (s *memStore) Init(context.Context) error                                    { return nil }
func (s *memStore) Close() error                                                  { return nil }

// stubEmbedder returns constant-dimension vectors and records inputs.
type stubEmbedder struct {
	mu    sync.Mutex
	dims  int
	err   error
	texts []string
}

func (e *stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.texts = append(e.texts, texts...)
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dims)
	}
	return out, nil
}

func (e *stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return make([]float32, e.dims), nil
}

func (e *stubEmbedder) Dimensions() int { return e.dims }
func (e *stubEmbedder) Name() string    { return "stub" }

type stubAnalyzer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (a *stubAnalyzer) Describe(_ context.Context, ref, _ string) (string, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	return "description of " + ref, nil
}

const sampleDoc = `# Guide

Introduction paragraph.

## Setup

` + "```sh\nmake install\n```" + `

![flow chart](img/flow.png)

Closing notes.
`

func TestIngestTextEndToEnd(t *testing.T) {
	store := &memStore{}
	emb := &stubEmbedder{dims: 8}
	ing := New(store, emb)

	res, err := ing.IngestText(context.Background(), sampleDoc, "guide.md", "Guide", map[string]string{"team": "infra"})
	if err != nil {
		t.Fatalf("IngestText() error = %v", err)
	}
	if res.ChunkCount != len(store.chunks) || res.ChunkCount == 0 {
		t.Fatalf("chunk count mismatch: res %d, stored %d", res.ChunkCount, len(store.chunks))
	}
	if store.doc.Title != "Guide" || store.doc.Source != "guide.md" {
		t.Errorf("document fields wrong: %+v", store.doc)
	}

	for i, c := range store.chunks {
		if c.DocumentID != res.DocumentID {
			t.Errorf("chunk %d has foreign document ID", i)
		}
		if c.ChunkIndex != i {
			t.Errorf("chunk %d index = %d", i, c.ChunkIndex)
		}
		if c.Meta.Document["team"] != "infra" {
			t.Errorf("chunk %d missing document metadata", i)
		}
		if err := c.Validate(); err != nil {
			t.Errorf("chunk %d invalid: %v", i, err)
		}
	}

	// Every chunk has embedding text here (the media chunk has alt
	// text), so all of them should come back ready.
	for _, c := range store.chunks {
		if !c.Embedding.IsReady() {
			t.Errorf("chunk %q not embedded: %q", c.Content, c.Embedding.Phase())
		}
	}
}

func TestIngestHierarchicalVectorText(t *testing.T) {
	store := &memStore{}
	emb := &stubEmbedder{dims: 4}
	ing := New(store, emb, WithDeferredEmbedding())

	_, err := ing.IngestText(context.Background(), sampleDoc, "guide.md", "Guide", nil)
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, c := range store.chunks {
		if c.Type == lore.TypeText && strings.Contains(c.Content, "Introduction") {
			found = true
			if !strings.HasPrefix(c.Embedding.VectorText(), "Guide\n") {
				t.Errorf("vector text missing breadcrumb: %q", c.Embedding.VectorText())
			}
		}
	}
	if !found {
		t.Fatal("introduction chunk not stored")
	}
}

func TestIngestDeferredLeavesChunksPending(t *testing.T) {
	store := &memStore{}
	emb := &stubEmbedder{dims: 4}
	ing := New(store, emb, WithDeferredEmbedding())

	res, err := ing.IngestText(context.Background(), sampleDoc, "guide.md", "Guide", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.PendingCount != res.ChunkCount {
		t.Errorf("pending = %d, want all %d", res.PendingCount, res.ChunkCount)
	}
	if len(emb.texts) != 0 {
		t.Errorf("deferred ingest must not call the embedder, got %d texts", len(emb.texts))
	}
}

func TestIngestEmbedFailureKeepsChunksPending(t *testing.T) {
	store := &memStore{}
	emb := &stubEmbedder{dims: 4, err: errors.New("provider down")}
	ing := New(store, emb)

	res, err := ing.IngestText(context.Background(), sampleDoc, "guide.md", "Guide", nil)
	if err != nil {
		t.Fatalf("embed failure must not fail ingest: %v", err)
	}
	if res.PendingCount == 0 {
		t.Error("chunks should stay pending after provider failure")
	}
	for _, c := range store.chunks {
		if c.Embedding.Phase() == lore.EmbeddingReadyPhase {
			t.Errorf("chunk %s unexpectedly ready", c.ID)
		}
	}
}

// mismatchEmbedder claims a different dimension than it returns.
type mismatchEmbedder struct {
	inner   *stubEmbedder
	claimed int
}

func (e *mismatchEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.inner.EmbedDocuments(ctx, texts)
}
func (e *mismatchEmbedder) EmbedQuery(ctx context.Context, q string) ([]float32, error) {
	return e.inner.EmbedQuery(ctx, q)
}
func (e *mismatchEmbedder) Dimensions() int { return e.claimed }
func (e *mismatchEmbedder) Name() string    { return "mismatch" }

func TestIngestDimensionMismatchFailsChunk(t *testing.T) {
	store := &memStore{}
	ing := New(store, &mismatchEmbedder{inner: &stubEmbedder{dims: 4}, claimed: 8})

	_, err := ing.IngestText(context.Background(), "just one paragraph", "a.md", "A", nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range store.chunks {
		if c.Embedding.Phase() != lore.EmbeddingFailedPhase {
			t.Errorf("chunk phase = %q, want failed on dimension mismatch", c.Embedding.Phase())
		}
	}
}

func TestIngestMediaEnrichment(t *testing.T) {
	store := &memStore{}
	emb := &stubEmbedder{dims: 4}
	analyzer := &stubAnalyzer{}
	ing := New(store, emb, WithMediaAnalyzer(analyzer), WithMediaWorkers(2), WithDeferredEmbedding())

	_, err := ing.IngestText(context.Background(), sampleDoc, "guide.md", "Guide", nil)
	if err != nil {
		t.Fatal(err)
	}
	if analyzer.calls != 1 {
		t.Errorf("analyzer calls = %d, want 1", analyzer.calls)
	}
	for _, c := range store.chunks {
		if c.Type.IsMedia() {
			if !strings.Contains(c.Meta.Description, "img/flow.png") {
				t.Errorf("media description not set: %+v", c.Meta)
			}
			if !strings.Contains(c.Embedding.VectorText(), "description of") {
				t.Errorf("media vector text should use the description, got %q", c.Embedding.VectorText())
			}
		}
	}
}

func TestIngestMediaAnalyzerFailureKeepsAltText(t *testing.T) {
	store := &memStore{}
	emb := &stubEmbedder{dims: 4}
	analyzer := &stubAnalyzer{err: errors.New("vision model down")}
	ing := New(store, emb, WithMediaAnalyzer(analyzer), WithDeferredEmbedding())

	_, err := ing.IngestText(context.Background(), sampleDoc, "guide.md", "Guide", nil)
	if err != nil {
		t.Fatalf("analyzer failure must not fail ingest: %v", err)
	}
	for _, c := range store.chunks {
		if c.Type.IsMedia() {
			if c.Meta.Description != "" {
				t.Errorf("description set despite failure: %q", c.Meta.Description)
			}
			if c.Embedding.VectorText() == "" {
				t.Error("alt text should still provide vector text")
			}
		}
	}
}

func TestIngestBytesDetectsContentType(t *testing.T) {
	store := &memStore{}
	emb := &stubEmbedder{dims: 4}
	ing := New(store, emb)

	html := `<html><head><title>Doc</title></head><body><article><h1>Doc</h1><p>` +
		strings.Repeat("Readable sentence here. ", 30) + `</p></article></body></html>`
	res, err := ing.IngestBytes(context.Background(), []byte(html), "page.html", nil)
	if err != nil {
		t.Fatalf("IngestBytes() error = %v", err)
	}
	if res.ChunkCount == 0 {
		t.Fatal("no chunks from HTML")
	}
	joined := ""
	for _, c := range store.chunks {
		joined += c.Content
	}
	if strings.Contains(joined, "<p>") || strings.Contains(joined, "<html>") {
		t.Errorf("HTML tags leaked into chunks")
	}
}

func TestIngestReader(t *testing.T) {
	store := &memStore{}
	emb := &stubEmbedder{dims: 4}
	ing := New(store, emb)

	res, err := ing.IngestReader(context.Background(), strings.NewReader("# T\n\nbody\n"), "t.md", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.ChunkCount != 1 {
		t.Errorf("chunks = %d, want 1", res.ChunkCount)
	}
}

func TestIngestBatchesLargeDocuments(t *testing.T) {
	store := &memStore{}
	emb := &stubEmbedder{dims: 4}
	ing := New(store, emb, WithBatchSize(3))

	var sb strings.Builder
	sb.WriteString("# H\n\n")
	for i := 0; i < 10; i++ {
		sb.WriteString(strings.Repeat("paragraph content ", 80))
		sb.WriteString("\n\n")
	}
	res, err := ing.IngestText(context.Background(), sb.String(), "big.md", "Big", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.ChunkCount < 4 {
		t.Fatalf("expected several chunks, got %d", res.ChunkCount)
	}
	if len(emb.texts) != res.ChunkCount {
		t.Errorf("embedded %d texts for %d chunks", len(emb.texts), res.ChunkCount)
	}
	if res.PendingCount != 0 {
		t.Errorf("pending = %d, want 0", res.PendingCount)
	}
}

package observer

import (
	"context"
	"errors"
	"testing"

	lore "github.com/halvard/lore"
)

type fakeEmbedder struct {
	dims int
	err  error
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dims)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, f.dims), nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }
func (f *fakeEmbedder) Name() string    { return "fake" }

type fakeSearcher struct {
	chunks []lore.ChunkResult
	err    error
}

func (f *fakeSearcher) Search(context.Context, string, lore.SearchOptions) ([]lore.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []lore.SearchResult{{DocumentID: "doc-1"}}, nil
}

func (f *fakeSearcher) SearchChunks(context.Context, string, lore.SearchOptions) ([]lore.ChunkResult, error) {
	return f.chunks, f.err
}

func newTestInstruments(t *testing.T) *Instruments {
	t.Helper()
	// The global OTEL providers default to no-ops, so instruments built
	// here record nothing but behave like the real thing.
	inst, err := NewInstruments()
	if err != nil {
		t.Fatalf("NewInstruments() error = %v", err)
	}
	return inst
}

func TestWrapEmbeddingPassesThrough(t *testing.T) {
	inst := newTestInstruments(t)
	wrapped := WrapEmbedding(&fakeEmbedder{dims: 4}, "model-x", inst)

	if wrapped.Name() != "fake" || wrapped.Dimensions() != 4 {
		t.Errorf("identity not forwarded: %s %d", wrapped.Name(), wrapped.Dimensions())
	}

	vecs, err := wrapped.EmbedDocuments(context.Background(), []string{"a", "b"})
	if err != nil || len(vecs) != 2 {
		t.Fatalf("EmbedDocuments() = %v, %v", vecs, err)
	}
	vec, err := wrapped.EmbedQuery(context.Background(), "q")
	if err != nil || len(vec) != 4 {
		t.Fatalf("EmbedQuery() = %v, %v", vec, err)
	}
}

func TestWrapEmbeddingPropagatesError(t *testing.T) {
	inst := newTestInstruments(t)
	boom := errors.New("boom")
	wrapped := WrapEmbedding(&fakeEmbedder{dims: 4, err: boom}, "model-x", inst)

	if _, err := wrapped.EmbedQuery(context.Background(), "q"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want inner error", err)
	}
}

func TestWrapRetrieverPassesThrough(t *testing.T) {
	inst := newTestInstruments(t)
	inner := &fakeSearcher{chunks: []lore.ChunkResult{{DocumentID: "doc-1", Score: 90}}}
	wrapped := WrapRetriever(inner, inst)

	chunks, err := wrapped.SearchChunks(context.Background(), "q", lore.SearchOptions{})
	if err != nil || len(chunks) != 1 || chunks[0].Score != 90 {
		t.Fatalf("SearchChunks() = %v, %v", chunks, err)
	}
	docs, err := wrapped.Search(context.Background(), "q", lore.SearchOptions{Mode: lore.ModeVector})
	if err != nil || len(docs) != 1 {
		t.Fatalf("Search() = %v, %v", docs, err)
	}
}

func TestWrapRetrieverPropagatesError(t *testing.T) {
	inst := newTestInstruments(t)
	boom := errors.New("store down")
	wrapped := WrapRetriever(&fakeSearcher{err: boom}, inst)

	if _, err := wrapped.Search(context.Background(), "q", lore.SearchOptions{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want inner error", err)
	}
}

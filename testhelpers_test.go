package lore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// fakeStore is an in-memory Store (plus LexicalSearcher) for tests.
// Vector search returns vectorHits verbatim; lexical search returns
// lexicalHits, or a naive substring match over saved chunks when unset.
type fakeStore struct {
	mu          sync.Mutex
	docs        map[string]Document
	chunks      map[string][]Chunk // by document ID, chunk-index order
	vectorHits  []RankedChunk
	lexicalHits []RankedChunk
	vectorErr   error
	lexicalErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:   make(map[string]Document),
		chunks: make(map[string][]Chunk),
	}
}

func (s *fakeStore) SaveDocument(_ context.Context, doc Document, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	cs := make([]Chunk, len(chunks))
	copy(cs, chunks)
	sort.Slice(cs, func(i, j int) bool { return cs[i].ChunkIndex < cs[j].ChunkIndex })
	s.chunks[doc.ID] = cs
	return nil
}

func (s *fakeStore) GetDocument(_ context.Context, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (s *fakeStore) GetChunksByDocument(_ context.Context, documentID string) ([]Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Chunk(nil), s.chunks[documentID]...), nil
}

func (s *fakeStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	delete(s.chunks, id)
	return nil
}

func (s *fakeStore) VectorSearch(_ context.Context, _ []float32, topK int) ([]RankedChunk, error) {
	if s.vectorErr != nil {
		return nil, s.vectorErr
	}
	hits := s.vectorHits
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *fakeStore) LexicalSearch(_ context.Context, query string, topK int) ([]RankedChunk, error) {
	if s.lexicalErr != nil {
		return nil, s.lexicalErr
	}
	hits := s.lexicalHits
	if hits == nil {
		s.mu.Lock()
		for _, cs := range s.chunks {
			for _, c := range cs {
				if strings.Contains(strings.ToLower(c.Content), strings.ToLower(query)) {
					hits = append(hits, RankedChunk{Chunk: c, Score: 1})
				}
			}
		}
		s.mu.Unlock()
		sort.Slice(hits, func(i, j int) bool { return hits[i].Chunk.ID < hits[j].Chunk.ID })
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *fakeStore) BulkUpdateVectors(_ context.Context, vectors map[string][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for docID, cs := range s.chunks {
		for i, c := range cs {
			if vec, ok := vectors[c.ID]; ok {
				c.Embedding = ReadyEmbedding(vec)
				s.chunks[docID][i] = c
			}
		}
	}
	return nil
}

func (s *fakeStore) MarkChunksFailed(_ context.Context, chunkIDs []string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	failed := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		failed[id] = true
	}
	for docID, cs := range s.chunks {
		for i, c := range cs {
			if failed[c.ID] {
				c.Embedding = FailedEmbedding(reason)
				s.chunks[docID][i] = c
			}
		}
	}
	return nil
}

func (s *fakeStore) Init(_ context.Context) error { return nil }
func (s *fakeStore) Close() error                 { return nil }

// noLexStore forwards Store methods but does not implement
// LexicalSearcher, for exercising stores without full-text support.
type noLexStore struct {
	inner *fakeStore
}

func (s noLexStore) SaveDocument(ctx context.Context, doc Document, chunks []Chunk) error {
	return s.inner.SaveDocument(ctx, doc, chunks)
}
func (s noLexStore) GetDocument(ctx context.Context, id string) (Document, error) {
	return s.inner.GetDocument(ctx, id)
}
func (s noLexStore) GetChunksByDocument(ctx context.Context, documentID string) ([]Chunk, error) {
	return s.inner.GetChunksByDocument(ctx, documentID)
}
func (s noLexStore) DeleteDocument(ctx context.Context, id string) error {
	return s.inner.DeleteDocument(ctx, id)
}
func (s noLexStore) VectorSearch(ctx context.Context, embedding []float32, topK int) ([]RankedChunk, error) {
	return s.inner.VectorSearch(ctx, embedding, topK)
}
func (s noLexStore) BulkUpdateVectors(ctx context.Context, vectors map[string][]float32) error {
	return s.inner.BulkUpdateVectors(ctx, vectors)
}
func (s noLexStore) MarkChunksFailed(ctx context.Context, chunkIDs []string, reason string) error {
	return s.inner.MarkChunksFailed(ctx, chunkIDs, reason)
}
func (s noLexStore) Init(ctx context.Context) error { return s.inner.Init(ctx) }
func (s noLexStore) Close() error                   { return s.inner.Close() }

// fakeEmbedder returns a fixed-dimension vector derived from input length.
type fakeEmbedder struct {
	dims  int
	err   error
	calls int
	mu    sync.Mutex
}

func newFakeEmbedder(dims int) *fakeEmbedder {
	return &fakeEmbedder{dims: dims}
}

func (e *fakeEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dims)
	for i := range vec {
		vec[i] = float32(len(text)%7) + float32(i)
	}
	return vec
}

func (e *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *fakeEmbedder) EmbedQuery(_ context.Context, query string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return e.embed(query), nil
}

func (e *fakeEmbedder) Dimensions() int { return e.dims }
func (e *fakeEmbedder) Name() string    { return "fake" }

func (e *fakeEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// fakeBatchEmbedder drives the reconciler: jobs succeed immediately and
// return one vector per input, with nil vectors at failAt indexes.
type fakeBatchEmbedder struct {
	*fakeEmbedder
	submitted [][]string
	failAt    map[int]bool
	jobState  BatchState
}

func newFakeBatchEmbedder(dims int) *fakeBatchEmbedder {
	return &fakeBatchEmbedder{
		fakeEmbedder: newFakeEmbedder(dims),
		jobState:     BatchSucceeded,
	}
}

func (e *fakeBatchEmbedder) BatchEmbed(_ context.Context, texts []string) (BatchJob, error) {
	e.submitted = append(e.submitted, append([]string(nil), texts...))
	return BatchJob{ID: fmt.Sprintf("job-%d", len(e.submitted)), State: e.jobState}, nil
}

func (e *fakeBatchEmbedder) BatchEmbedStatus(_ context.Context, jobID string) (BatchJob, error) {
	return BatchJob{ID: jobID, State: e.jobState}, nil
}

func (e *fakeBatchEmbedder) BatchEmbedResults(_ context.Context, _ string) ([][]float32, error) {
	if len(e.submitted) == 0 {
		return nil, errors.New("no job submitted")
	}
	texts := e.submitted[len(e.submitted)-1]
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if e.failAt[i] {
			continue
		}
		out[i] = e.embed(t)
	}
	return out, nil
}

// ranked builds a RankedChunk list from chunk IDs, best first.
func ranked(ids ...string) []RankedChunk {
	out := make([]RankedChunk, len(ids))
	for i, id := range ids {
		out[i] = RankedChunk{
			Chunk: Chunk{ID: id, DocumentID: "doc-1", Content: "content " + id, Type: TypeText},
			Score: 1 - float64(i)*0.1,
		}
	}
	return out
}

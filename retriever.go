package lore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// SearchMode selects the retrieval strategy.
type SearchMode string

const (
	ModeVector  SearchMode = "vector"
	ModeLexical SearchMode = "lexical"
	ModeHybrid  SearchMode = "hybrid"
)

// SearchOptions shape a single search call. The zero value means hybrid
// mode with the retriever's defaults.
type SearchOptions struct {
	// Mode defaults to ModeHybrid.
	Mode SearchMode
	// Limit is the maximum number of primary results. Defaults to 10.
	Limit int
	// ContextWindow, when > 0, returns up to N neighboring chunks on
	// each side of every primary result. Overrides the retriever-level
	// default for this call.
	ContextWindow int
	// Filters restrict results to chunks whose document metadata
	// contains every given key/value pair.
	Filters map[string]string
}

// Searcher is the retrieval contract. Implementations may combine
// multiple search strategies; the observer package wraps this interface
// to add instrumentation.
type Searcher interface {
	// Search returns document-granular results, best document first.
	Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error)
	// SearchChunks returns chunk-granular results, best chunk first.
	SearchChunks(ctx context.Context, query string, opts SearchOptions) ([]ChunkResult, error)
}

// RetrieverOption configures a HybridRetriever.
type RetrieverOption func(*retrieverConfig)

type retrieverConfig struct {
	rrfK          int
	oversample    int
	contextWindow int
	embedTimeout  time.Duration
	cacheSize     int
	logger        *slog.Logger
}

// WithRRFK sets the rank-fusion constant k. Default is 60.
func WithRRFK(k int) RetrieverOption {
	return func(c *retrieverConfig) { c.rrfK = k }
}

// WithOversample sets the multiplier for sub-query candidate fetching:
// each sub-query retrieves limit*n candidates before fusion. Default 2.
func WithOversample(n int) RetrieverOption {
	return func(c *retrieverConfig) { c.oversample = n }
}

// WithContextWindow sets the default number of neighboring chunks
// returned on each side of a primary result. Default 0 (off).
func WithContextWindow(n int) RetrieverOption {
	return func(c *retrieverConfig) { c.contextWindow = n }
}

// WithEmbedTimeout bounds the query-embedding call. When it elapses in
// hybrid mode, the search degrades to lexical-only instead of failing.
// Default 0 (no bound).
func WithEmbedTimeout(d time.Duration) RetrieverOption {
	return func(c *retrieverConfig) { c.embedTimeout = d }
}

// WithQueryCacheSize sets the query-embedding cache capacity. Default 256.
func WithQueryCacheSize(n int) RetrieverOption {
	return func(c *retrieverConfig) { c.cacheSize = n }
}

// WithRetrieverLogger sets the logger. Default discards.
func WithRetrieverLogger(l *slog.Logger) RetrieverOption {
	return func(c *retrieverConfig) { c.logger = l }
}

// HybridRetriever fuses vector and lexical search over a Store with
// Reciprocal Rank Fusion. Safe for concurrent use.
type HybridRetriever struct {
	store     Store
	embedding EmbeddingProvider
	cfg       retrieverConfig
	cache     *queryCache
	log       *slog.Logger
}

var _ Searcher = (*HybridRetriever)(nil)

// NewHybridRetriever creates a retriever over store and embedding. If
// the store implements LexicalSearcher, hybrid and lexical modes use it;
// otherwise hybrid degrades to vector results and lexical mode errors.
func NewHybridRetriever(store Store, embedding EmbeddingProvider, opts ...RetrieverOption) *HybridRetriever {
	cfg := retrieverConfig{
		rrfK:       60,
		oversample: 2,
		cacheSize:  256,
	}
	for _, o := range opts {
		o(&cfg)
	}
	log := cfg.logger
	if log == nil {
		log = nopLogger
	}
	return &HybridRetriever{
		store:     store,
		embedding: embedding,
		cfg:       cfg,
		cache:     newQueryCache(cfg.cacheSize),
		log:       log,
	}
}

// Search runs SearchChunks and aggregates hits per document. Each
// document's score is its best chunk's score; documents are ordered by
// that score, ties broken by document ID.
func (h *HybridRetriever) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	chunks, err := h.SearchChunks(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	byDoc := make(map[string]*SearchResult)
	var order []string
	for _, cr := range chunks {
		sr, ok := byDoc[cr.DocumentID]
		if !ok {
			sr = &SearchResult{
				DocumentID:    cr.DocumentID,
				DocumentTitle: cr.DocumentTitle,
				Score:         cr.Score,
				Best:          cr,
			}
			byDoc[cr.DocumentID] = sr
			order = append(order, cr.DocumentID)
		}
		sr.Matches = append(sr.Matches, cr)
		if cr.Match != MatchContext && cr.Score > sr.Score {
			sr.Score = cr.Score
			sr.Best = cr
		}
	}

	results := make([]SearchResult, 0, len(order))
	for _, id := range order {
		results = append(results, *byDoc[id])
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocumentID < results[j].DocumentID
	})
	return results, nil
}

// SearchChunks runs the configured search mode and returns chunk-level
// results with scores normalized to 0-100. Context-window neighbors,
// when requested, follow their primary chunk with MatchContext and
// score 0.
func (h *HybridRetriever) SearchChunks(ctx context.Context, query string, opts SearchOptions) ([]ChunkResult, error) {
	if query == "" {
		return nil, fmt.Errorf("search: empty query")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeHybrid
	}

	fetchK := limit * h.cfg.oversample
	if fetchK < limit {
		fetchK = limit
	}
	// Metadata filters discard candidates after fusion, so fetch deeper.
	if len(opts.Filters) > 0 {
		fetchK *= 3
	}

	var results []ChunkResult
	var err error
	switch mode {
	case ModeVector:
		results, err = h.vectorOnly(ctx, query, fetchK)
	case ModeLexical:
		results, err = h.lexicalOnly(ctx, query, fetchK)
	case ModeHybrid:
		results, err = h.hybrid(ctx, query, fetchK)
	default:
		return nil, fmt.Errorf("search: unknown mode %q", mode)
	}
	if err != nil {
		return nil, err
	}

	if len(opts.Filters) > 0 {
		results = filterByMetadata(results, opts.Filters)
	}
	if len(results) > limit {
		results = results[:limit]
	}

	h.fillTitles(ctx, results)

	window := opts.ContextWindow
	if window == 0 {
		window = h.cfg.contextWindow
	}
	if window > 0 {
		results = h.expandContext(ctx, results, window)
	}
	return results, nil
}

// vectorOnly maps cosine similarity (clamped to [0,1]) onto 0-100.
func (h *HybridRetriever) vectorOnly(ctx context.Context, query string, fetchK int) ([]ChunkResult, error) {
	vec, err := h.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	ranked, err := h.store.VectorSearch(ctx, vec, fetchK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	results := make([]ChunkResult, 0, len(ranked))
	for _, rc := range ranked {
		s := rc.Score
		if s < 0 {
			s = 0
		} else if s > 1 {
			s = 1
		}
		results = append(results, ChunkResult{
			Chunk:      rc.Chunk,
			Score:      s * 100,
			Match:      MatchVector,
			DocumentID: rc.Chunk.DocumentID,
		})
	}
	return results, nil
}

// lexicalOnly normalizes by rank position: lexical relevance scores have
// no bounded native range, so rank i maps to (k+1)/(k+i) of the maximum.
func (h *HybridRetriever) lexicalOnly(ctx context.Context, query string, fetchK int) ([]ChunkResult, error) {
	ls, ok := h.store.(LexicalSearcher)
	if !ok {
		return nil, ErrLexicalUnavailable
	}
	ranked, err := ls.LexicalSearch(ctx, query, fetchK)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	k := float64(h.cfg.rrfK)
	results := make([]ChunkResult, 0, len(ranked))
	for i, rc := range ranked {
		results = append(results, ChunkResult{
			Chunk:      rc.Chunk,
			Score:      (k + 1) / (k + float64(i+1)) * 100,
			Match:      MatchFTS,
			DocumentID: rc.Chunk.DocumentID,
		})
	}
	return results, nil
}

func (h *HybridRetriever) hybrid(ctx context.Context, query string, fetchK int) ([]ChunkResult, error) {
	var (
		wg          sync.WaitGroup
		vectorList  []RankedChunk
		lexicalList []RankedChunk
		embedErr    error
		vectorErr   error
		lexicalErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		vec, err := h.embedQuery(ctx, query)
		if err != nil {
			embedErr = err
			return
		}
		vectorList, vectorErr = h.store.VectorSearch(ctx, vec, fetchK)
	}()
	go func() {
		defer wg.Done()
		ls, ok := h.store.(LexicalSearcher)
		if !ok {
			return
		}
		lexicalList, lexicalErr = ls.LexicalSearch(ctx, query, fetchK)
	}()
	wg.Wait()

	// Embedding trouble degrades to lexical-only. Store trouble fails
	// the request.
	if embedErr != nil {
		h.log.Warn("query embedding failed, degrading to lexical search", "error", embedErr)
	}
	if vectorErr != nil {
		return nil, fmt.Errorf("vector search: %w", vectorErr)
	}
	if lexicalErr != nil {
		return nil, fmt.Errorf("lexical search: %w", lexicalErr)
	}

	return h.fuse(vectorList, lexicalList), nil
}

// fuse merges two ranked lists with Reciprocal Rank Fusion: each list
// contributes 1/(k+rank) per chunk, ranks 1-based, summed over the union
// of chunk identities. The fused score is normalized against the
// theoretical maximum 2/(k+1). Ties break on chunk ID so ordering is
// deterministic.
func (h *HybridRetriever) fuse(vector, lexical []RankedChunk) []ChunkResult {
	k := float64(h.cfg.rrfK)

	type entry struct {
		chunk     Chunk
		score     float64
		inVector  bool
		inLexical bool
	}
	merged := make(map[string]*entry)

	for i, rc := range vector {
		e, ok := merged[rc.Chunk.ID]
		if !ok {
			e = &entry{chunk: rc.Chunk}
			merged[rc.Chunk.ID] = e
		}
		e.score += 1 / (k + float64(i+1))
		e.inVector = true
	}
	for i, rc := range lexical {
		e, ok := merged[rc.Chunk.ID]
		if !ok {
			e = &entry{chunk: rc.Chunk}
			merged[rc.Chunk.ID] = e
		}
		e.score += 1 / (k + float64(i+1))
		e.inLexical = true
	}

	maxScore := 2 / (k + 1)
	results := make([]ChunkResult, 0, len(merged))
	for _, e := range merged {
		match := MatchHybrid
		switch {
		case e.inVector && !e.inLexical:
			match = MatchVector
		case e.inLexical && !e.inVector:
			match = MatchFTS
		}
		results = append(results, ChunkResult{
			Chunk:      e.chunk,
			Score:      e.score / maxScore * 100,
			Match:      match,
			DocumentID: e.chunk.DocumentID,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	return results
}

// embedQuery returns the query vector, consulting the normalized-text
// cache first and bounding the provider call by the configured timeout.
func (h *HybridRetriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	key := normalizeQuery(query)
	if vec, ok := h.cache.get(key); ok {
		return vec, nil
	}

	if h.cfg.embedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.embedTimeout)
		defer cancel()
	}
	vec, err := h.embedding.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, ErrEmbeddingUnavailable
	}
	h.cache.put(key, vec)
	return vec, nil
}

func filterByMetadata(results []ChunkResult, filters map[string]string) []ChunkResult {
	filtered := results[:0]
	for _, r := range results {
		match := true
		for k, v := range filters {
			if r.Chunk.Meta.Document[k] != v {
				match = false
				break
			}
		}
		if match {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// fillTitles resolves document titles for display. A title lookup
// failure never fails the search.
func (h *HybridRetriever) fillTitles(ctx context.Context, results []ChunkResult) {
	titles := make(map[string]string)
	for i := range results {
		id := results[i].DocumentID
		title, ok := titles[id]
		if !ok {
			doc, err := h.store.GetDocument(ctx, id)
			if err != nil {
				h.log.Debug("document title lookup failed", "document_id", id, "error", err)
			}
			title = doc.Title
			titles[id] = title
		}
		results[i].DocumentTitle = title
	}
}

// expandContext inserts up to window neighboring chunks on each side of
// every primary result, directly after it in document order. A chunk
// that is already a primary result, or already added as a neighbor, is
// never added twice.
func (h *HybridRetriever) expandContext(ctx context.Context, primaries []ChunkResult, window int) []ChunkResult {
	seen := make(map[string]bool, len(primaries))
	for _, r := range primaries {
		seen[r.Chunk.ID] = true
	}

	docChunks := make(map[string][]Chunk)
	out := make([]ChunkResult, 0, len(primaries))
	for _, r := range primaries {
		out = append(out, r)

		chunks, ok := docChunks[r.DocumentID]
		if !ok {
			var err error
			chunks, err = h.store.GetChunksByDocument(ctx, r.DocumentID)
			if err != nil {
				h.log.Debug("context expansion skipped", "document_id", r.DocumentID, "error", err)
				chunks = nil
			}
			docChunks[r.DocumentID] = chunks
		}

		lo := r.Chunk.ChunkIndex - window
		hi := r.Chunk.ChunkIndex + window
		for _, c := range chunks {
			if c.ChunkIndex < lo || c.ChunkIndex > hi || seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			out = append(out, ChunkResult{
				Chunk:         c,
				Score:         0,
				Match:         MatchContext,
				DocumentID:    c.DocumentID,
				DocumentTitle: r.DocumentTitle,
			})
		}
	}
	return out
}

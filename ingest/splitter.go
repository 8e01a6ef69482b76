package ingest

import (
	"log/slog"
	"slices"
	"strings"

	lore "github.com/halvard/lore"
)

const (
	defaultTextBudget = 1200
	defaultCodeBudget = 3000
)

// SplitterOption configures a Splitter.
type SplitterOption func(*Splitter)

// WithTextBudget sets the byte budget for text and table chunks.
// Default 1200.
func WithTextBudget(n int) SplitterOption {
	return func(s *Splitter) { s.textBudget = n }
}

// WithCodeBudget sets the byte budget for code chunks. Default 3000.
func WithCodeBudget(n int) SplitterOption {
	return func(s *Splitter) { s.codeBudget = n }
}

// WithSplitterLogger sets the logger. Default discards.
func WithSplitterLogger(l *slog.Logger) SplitterOption {
	return func(s *Splitter) { s.log = l }
}

// Splitter folds segments into chunks under byte budgets. Text and table
// segments accumulate in a buffer that flushes on budget overflow, on a
// header-stack change, and at end of input; code and media segments
// always stand alone, so a code chunk never mixes with prose. Chunk
// indexes are strictly increasing from 0 across the document.
type Splitter struct {
	textBudget int
	codeBudget int
	log        *slog.Logger
}

// NewSplitter creates a Splitter with the given options.
func NewSplitter(opts ...SplitterOption) *Splitter {
	s := &Splitter{
		textBudget: defaultTextBudget,
		codeBudget: defaultCodeBudget,
		log:        nopLogger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Split turns segments into chunks belonging to documentID. docMeta is
// copied into every chunk. Splitting never fails: content that cannot
// fit any budget is cut at the finest granularity available and logged.
func (s *Splitter) Split(documentID string, docMeta map[string]string, segments []Segment) []lore.Chunk {
	b := &chunkBuilder{
		documentID: documentID,
		docMeta:    docMeta,
	}

	for _, seg := range segments {
		switch {
		case seg.Type == lore.TypeCode:
			b.flush()
			for _, piece := range s.splitLines(seg.Text, s.codeBudget) {
				b.emit(piece, lore.TypeCode, lore.CodeMeta(seg.Headers, seg.Language))
			}

		case seg.Type.IsMedia():
			b.flush()
			b.emit(seg.Text, seg.Type, lore.MediaMeta(seg.Headers, seg.AltText, seg.Ref))

		default: // text, table
			if !slices.Equal(seg.Headers, b.headers) {
				b.flush()
				b.headers = slices.Clone(seg.Headers)
			}
			if b.buffered() > 0 && b.buffered()+2+len(seg.Text) > s.textBudget {
				b.flush()
			}
			if len(seg.Text) > s.textBudget {
				b.flush()
				for _, piece := range s.splitLines(seg.Text, s.textBudget) {
					b.buffer(piece, seg.Type)
					b.flush()
				}
				continue
			}
			b.buffer(seg.Text, seg.Type)
		}
	}
	b.flush()
	return b.chunks
}

// splitLines cuts text into pieces of at most budget bytes, breaking on
// line boundaries. A single line over budget is hard-cut; that loses
// line integrity but keeps every byte.
func (s *Splitter) splitLines(text string, budget int) []string {
	if len(text) <= budget {
		return []string{text}
	}

	var pieces []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			pieces = append(pieces, cur.String())
			cur.Reset()
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if len(line) > budget {
			flush()
			s.log.Warn("line exceeds budget, hard cut", "line_bytes", len(line), "budget", budget)
			for len(line) > budget {
				pieces = append(pieces, line[:budget])
				line = line[budget:]
			}
			if line != "" {
				cur.WriteString(line)
			}
			continue
		}
		if cur.Len() > 0 && cur.Len()+1+len(line) > budget {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	flush()
	return pieces
}

// chunkBuilder accumulates buffered segments and emits chunks with
// contiguous indexes.
type chunkBuilder struct {
	documentID string
	docMeta    map[string]string
	chunks     []lore.Chunk
	headers    []string

	parts     []string
	allTables bool
}

func (b *chunkBuilder) buffered() int {
	n := 0
	for i, p := range b.parts {
		if i > 0 {
			n += 2 // "\n\n" joiner
		}
		n += len(p)
	}
	return n
}

func (b *chunkBuilder) buffer(text string, t lore.ChunkType) {
	if len(b.parts) == 0 {
		b.allTables = true
	}
	if t != lore.TypeTable {
		b.allTables = false
	}
	b.parts = append(b.parts, text)
}

// flush emits the buffered text as one chunk. A buffer consisting solely
// of tables becomes a table chunk.
func (b *chunkBuilder) flush() {
	if len(b.parts) == 0 {
		return
	}
	t := lore.TypeText
	if b.allTables {
		t = lore.TypeTable
	}
	b.emit(strings.Join(b.parts, "\n\n"), t, lore.TextMeta(b.headers))
	b.parts = nil
	b.allTables = false
}

func (b *chunkBuilder) emit(content string, t lore.ChunkType, meta lore.ChunkMeta) {
	meta.Document = lore.CloneMetadata(b.docMeta)
	b.chunks = append(b.chunks, lore.Chunk{
		ID:         lore.NewID(),
		DocumentID: b.documentID,
		Content:    content,
		Type:       t,
		ChunkIndex: len(b.chunks),
		Meta:       meta,
	})
}

package ingest

import (
	"strings"
	"testing"

	lore "github.com/halvard/lore"
)

func stripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func TestSplitThreeSectionDocument(t *testing.T) {
	para1 := strings.Repeat("x", 40)
	code := "print(1)\n" + strings.Repeat("y", 20) // 30 bytes
	para2 := strings.Repeat("z", 20)
	src := "# A\n\n" + para1 + "\n\n## B\n\n```python\n" + code + "\n```\n\n" + para2 + "\n"

	p := NewParser()
	s := NewSplitter(WithTextBudget(100), WithCodeBudget(100))
	chunks := s.Split("doc-1", nil, p.Parse([]byte(src)))

	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3: %+v", len(chunks), chunks)
	}

	if chunks[0].Type != lore.TypeText || chunks[0].Meta.Breadcrumb(" > ") != "A" {
		t.Errorf("chunk 0: type %q crumb %q, want text under A", chunks[0].Type, chunks[0].Meta.Breadcrumb(" > "))
	}
	if chunks[1].Type != lore.TypeCode || chunks[1].Meta.Language != "python" {
		t.Errorf("chunk 1: type %q lang %q, want python code", chunks[1].Type, chunks[1].Meta.Language)
	}
	if chunks[1].Meta.Breadcrumb(" > ") != "A > B" {
		t.Errorf("chunk 1 crumb = %q, want A > B", chunks[1].Meta.Breadcrumb(" > "))
	}
	if chunks[2].Type != lore.TypeText || chunks[2].Meta.Breadcrumb(" > ") != "A > B" {
		t.Errorf("chunk 2: type %q crumb %q, want text under A > B", chunks[2].Type, chunks[2].Meta.Breadcrumb(" > "))
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Errorf("chunk %d index = %d", i, c.ChunkIndex)
		}
	}
}

func TestSplitCodePurity(t *testing.T) {
	src := "# H\n\nbefore\n\n```go\nfunc main() {}\n```\n\nafter\n"
	p := NewParser()
	s := NewSplitter()
	chunks := s.Split("doc-1", nil, p.Parse([]byte(src)))

	var codeChunks []lore.Chunk
	for _, c := range chunks {
		if c.Type == lore.TypeCode {
			codeChunks = append(codeChunks, c)
		}
		if c.Type == lore.TypeText && strings.Contains(c.Content, "func main") {
			t.Errorf("code leaked into text chunk: %q", c.Content)
		}
	}
	if len(codeChunks) != 1 {
		t.Fatalf("code chunks = %d, want 1", len(codeChunks))
	}
	if strings.Contains(codeChunks[0].Content, "before") || strings.Contains(codeChunks[0].Content, "after") {
		t.Errorf("prose leaked into code chunk: %q", codeChunks[0].Content)
	}
}

func TestSplitRoundTrip(t *testing.T) {
	src := `# Guide

Some introduction text that explains the system.

## Install

Step one. Step two. Step three.

` + "```sh\napt install thing\n```" + `

| a | b |
|---|---|
| 1 | 2 |

Closing remarks.
`
	p := NewParser()
	segments := p.Parse([]byte(src))
	s := NewSplitter(WithTextBudget(48))
	chunks := s.Split("doc-1", nil, segments)

	var want, got strings.Builder
	for _, seg := range segments {
		want.WriteString(seg.Text)
	}
	for _, c := range chunks {
		got.WriteString(c.Content)
	}
	if stripSpace(got.String()) != stripSpace(want.String()) {
		t.Errorf("content lost or duplicated:\n got %q\nwant %q", got.String(), want.String())
	}
}

func TestSplitIndexContiguity(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("# H\n\n")
	for i := 0; i < 20; i++ {
		sb.WriteString(strings.Repeat("word ", 30))
		sb.WriteString("\n\n")
	}
	sb.WriteString("```go\ncode\n```\n\n![img](a.png)\n")

	p := NewParser()
	s := NewSplitter(WithTextBudget(200))
	chunks := s.Split("doc-1", nil, p.Parse([]byte(sb.String())))

	if len(chunks) < 5 {
		t.Fatalf("expected many chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Fatalf("chunk %d has index %d; indexes must be contiguous from 0", i, c.ChunkIndex)
		}
		if err := c.Validate(); err != nil {
			t.Errorf("chunk %d invalid: %v", i, err)
		}
	}
}

func TestSplitBuffersSmallParagraphs(t *testing.T) {
	segs := []Segment{
		{Text: "one", Type: lore.TypeText, Headers: []string{"H"}},
		{Text: "two", Type: lore.TypeText, Headers: []string{"H"}},
		{Text: "three", Type: lore.TypeText, Headers: []string{"H"}},
	}
	s := NewSplitter(WithTextBudget(100))
	chunks := s.Split("doc-1", nil, segs)
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1 merged chunk", len(chunks))
	}
	if chunks[0].Content != "one\n\ntwo\n\nthree" {
		t.Errorf("content = %q", chunks[0].Content)
	}
}

func TestSplitFlushesOnHeaderChange(t *testing.T) {
	segs := []Segment{
		{Text: "alpha", Type: lore.TypeText, Headers: []string{"A"}},
		{Text: "beta", Type: lore.TypeText, Headers: []string{"A", "B"}},
	}
	s := NewSplitter(WithTextBudget(1000))
	chunks := s.Split("doc-1", nil, segs)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want flush on header change", len(chunks))
	}
	if chunks[0].Meta.Breadcrumb(">") != "A" || chunks[1].Meta.Breadcrumb(">") != "A>B" {
		t.Errorf("breadcrumbs: %q, %q", chunks[0].Meta.Breadcrumb(">"), chunks[1].Meta.Breadcrumb(">"))
	}
}

func TestSplitOversizedCodeOnLineBoundaries(t *testing.T) {
	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, "line_"+strings.Repeat("a", 20))
	}
	segs := []Segment{
		{Text: strings.Join(lines, "\n"), Type: lore.TypeCode, Headers: []string{"H"}, Language: "go"},
	}
	s := NewSplitter(WithCodeBudget(100))
	chunks := s.Split("doc-1", nil, segs)

	if len(chunks) < 2 {
		t.Fatalf("expected oversized code to split, got %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if c.Type != lore.TypeCode || c.Meta.Language != "go" {
			t.Errorf("chunk %d: type %q lang %q", i, c.Type, c.Meta.Language)
		}
		if len(c.Content) > 100 {
			t.Errorf("chunk %d over budget: %d bytes", i, len(c.Content))
		}
		for _, line := range strings.Split(c.Content, "\n") {
			if line != "" && !strings.HasPrefix(line, "line_") {
				t.Errorf("chunk %d split mid-line: %q", i, line)
			}
		}
	}
}

func TestSplitHardCutsSingleHugeLine(t *testing.T) {
	segs := []Segment{
		{Text: strings.Repeat("a", 350), Type: lore.TypeCode, Headers: nil, Language: "text"},
	}
	s := NewSplitter(WithCodeBudget(100))
	chunks := s.Split("doc-1", nil, segs)
	if len(chunks) != 4 {
		t.Fatalf("chunks = %d, want 4 (3 full cuts + remainder)", len(chunks))
	}
	total := 0
	for _, c := range chunks {
		if len(c.Content) > 100 {
			t.Errorf("piece over budget: %d", len(c.Content))
		}
		total += len(c.Content)
	}
	if total != 350 {
		t.Errorf("bytes lost in hard cut: %d of 350", total)
	}
}

func TestSplitAllTableBufferIsTableChunk(t *testing.T) {
	segs := []Segment{
		{Text: "| a |\n|---|\n| 1 |", Type: lore.TypeTable, Headers: []string{"H"}},
		{Text: "| b |\n|---|\n| 2 |", Type: lore.TypeTable, Headers: []string{"H"}},
	}
	s := NewSplitter(WithTextBudget(1000))
	chunks := s.Split("doc-1", nil, segs)
	if len(chunks) != 1 || chunks[0].Type != lore.TypeTable {
		t.Fatalf("want one table chunk, got %+v", chunks)
	}

	mixed := append(segs, Segment{Text: "prose", Type: lore.TypeText, Headers: []string{"H"}})
	chunks = s.Split("doc-1", nil, mixed)
	if len(chunks) != 1 || chunks[0].Type != lore.TypeText {
		t.Fatalf("mixed buffer must be text, got %+v", chunks)
	}
}

func TestSplitMediaStandsAlone(t *testing.T) {
	segs := []Segment{
		{Text: "before", Type: lore.TypeText, Headers: []string{"H"}},
		{Text: "img/x.png", Type: lore.TypeImageRef, Headers: []string{"H"}, AltText: "diagram", Ref: "img/x.png"},
		{Text: "after", Type: lore.TypeText, Headers: []string{"H"}},
	}
	s := NewSplitter(WithTextBudget(1000))
	chunks := s.Split("doc-1", nil, segs)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3 (media never merges)", len(chunks))
	}
	if chunks[1].Type != lore.TypeImageRef || chunks[1].Meta.Ref != "img/x.png" || chunks[1].Meta.AltText != "diagram" {
		t.Errorf("media chunk wrong: %+v", chunks[1])
	}
}

func TestSplitCopiesDocumentMetadata(t *testing.T) {
	meta := map[string]string{"team": "infra"}
	segs := []Segment{
		{Text: "a", Type: lore.TypeText, Headers: nil},
		{Text: "b", Type: lore.TypeCode, Headers: nil, Language: "go"},
	}
	s := NewSplitter()
	chunks := s.Split("doc-1", meta, segs)

	meta["team"] = "changed"
	for _, c := range chunks {
		if c.Meta.Document["team"] != "infra" {
			t.Errorf("chunk %s shares the document metadata map", c.ID)
		}
	}
	chunks[0].Meta.Document["team"] = "other"
	if chunks[1].Meta.Document["team"] != "infra" {
		t.Error("chunks share metadata maps with each other")
	}
}

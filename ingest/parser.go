package ingest

import (
	"path"
	"slices"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	lore "github.com/halvard/lore"
)

// Segment is a typed piece of a parsed document, the unit the splitter
// consumes. Headers is a value copy of the header stack at the segment's
// position; mutating it later never affects other segments.
type Segment struct {
	Text     string
	Type     lore.ChunkType
	Headers  []string
	Language string // code segments only
	AltText  string // media segments only
	Ref      string // media segments only
}

// Parser segments markdown into typed pieces with header context. It
// walks the goldmark AST, so fences, tables, and image references are
// recognized exactly rather than by line heuristics. Parsing never
// fails: unrecognized structure degrades to text segments.
type Parser struct {
	md goldmark.Markdown
}

// NewParser creates a markdown parser with table support.
func NewParser() *Parser {
	return &Parser{
		md: goldmark.New(goldmark.WithExtensions(extension.Table)),
	}
}

// Parse segments source. Headings update the header stack and produce no
// segment of their own; every other top-level block becomes at least one
// segment carrying the stack as it stood.
func (p *Parser) Parse(source []byte) []Segment {
	doc := p.md.Parser().Parse(text.NewReader(source))

	type stackEntry struct {
		level int
		text  string
	}
	var stack []stackEntry
	headers := func() []string {
		out := make([]string, len(stack))
		for i, e := range stack {
			out[i] = e.text
		}
		return out
	}

	var segments []Segment
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			// Pop to the enclosing level, then push. Level jumps in
			// either direction leave a consistent stack.
			for len(stack) > 0 && stack[len(stack)-1].level >= node.Level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, stackEntry{level: node.Level, text: inlineText(node, source)})

		case *ast.FencedCodeBlock:
			lang := "text"
			if l := node.Language(source); len(l) > 0 {
				lang = string(l)
			}
			segments = append(segments, Segment{
				Text:     linesText(node, source),
				Type:     lore.TypeCode,
				Headers:  headers(),
				Language: lang,
			})

		case *ast.CodeBlock:
			segments = append(segments, Segment{
				Text:     linesText(node, source),
				Type:     lore.TypeCode,
				Headers:  headers(),
				Language: "text",
			})

		case *east.Table:
			segments = append(segments, Segment{
				Text:    rawSpan(node, source),
				Type:    lore.TypeTable,
				Headers: headers(),
			})

		case *ast.Paragraph:
			segments = append(segments, p.paragraphSegments(node, source, headers())...)

		default:
			if txt := strings.TrimSpace(rawSpan(n, source)); txt != "" {
				segments = append(segments, Segment{
					Text:    txt,
					Type:    lore.TypeText,
					Headers: headers(),
				})
			}
		}
	}
	return segments
}

// paragraphSegments splits a paragraph into media segments (one per
// embedded reference) and at most one text segment for the remainder.
func (p *Parser) paragraphSegments(node *ast.Paragraph, source []byte, headers []string) []Segment {
	var segments []Segment
	var hasMedia bool

	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		img, ok := n.(*ast.Image)
		if !ok {
			return ast.WalkContinue, nil
		}
		hasMedia = true
		ref := string(img.Destination)
		segments = append(segments, Segment{
			Text:    ref,
			Type:    mediaType(ref),
			Headers: slices.Clone(headers),
			AltText: inlineText(img, source),
			Ref:     ref,
		})
		return ast.WalkSkipChildren, nil
	})

	remainder := strings.TrimSpace(rawSpan(node, source))
	if hasMedia {
		remainder = strings.TrimSpace(stripImageRefs(remainder))
	}
	if remainder != "" {
		segments = append(segments, Segment{
			Text:    remainder,
			Type:    lore.TypeText,
			Headers: slices.Clone(headers),
		})
	}
	return segments
}

// mediaType classifies a reference by its file extension.
func mediaType(ref string) lore.ChunkType {
	ext := strings.ToLower(path.Ext(strings.SplitN(ref, "?", 2)[0]))
	switch ext {
	case ".mp3", ".wav", ".ogg", ".flac", ".m4a", ".aac":
		return lore.TypeAudioRef
	case ".mp4", ".mov", ".webm", ".avi", ".mkv":
		return lore.TypeVideoRef
	default:
		return lore.TypeImageRef
	}
}

// stripImageRefs removes markdown image syntax from a paragraph's raw
// text, leaving any surrounding prose.
func stripImageRefs(s string) string {
	var b strings.Builder
	for {
		i := strings.Index(s, "![")
		if i < 0 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[i:], ")")
		if end < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:i])
		s = s[i+end+1:]
	}
	return b.String()
}

// inlineText collects the plain text of an inline container.
func inlineText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// linesText returns the source text of a block node's own lines.
func linesText(n ast.Node, source []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return strings.TrimRight(b.String(), "\n")
}

// rawSpan returns the raw source covered by a node, including container
// nodes (lists, tables) whose own line list is empty. The span is
// widened to whole source lines so structural characters like table
// pipes survive.
func rawSpan(n ast.Node, source []byte) string {
	start, stop := -1, -1
	grow := func(s, e int) {
		if start < 0 || s < start {
			start = s
		}
		if e > stop {
			stop = e
		}
	}
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := c.(*ast.Text); ok {
			grow(t.Segment.Start, t.Segment.Stop)
		}
		lines := c.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			grow(seg.Start, seg.Stop)
		}
		return ast.WalkContinue, nil
	})
	if start < 0 || stop <= start {
		return ""
	}
	for start > 0 && source[start-1] != '\n' {
		start--
	}
	for stop < len(source) && source[stop] != '\n' {
		stop++
	}
	return strings.TrimRight(string(source[start:stop]), "\n")
}

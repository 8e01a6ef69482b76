package ingest

import (
	"strings"

	lore "github.com/halvard/lore"
)

// ContextStrategy decides what text represents a chunk in embedding
// space. Implementations must be pure: same chunk in, same text out.
type ContextStrategy interface {
	VectorText(c lore.Chunk) string
}

// BasicContext embeds the chunk content as-is. Media chunks fall back to
// their description or alt text; a bare file reference is never used as
// embedding text, so a media chunk with neither yields "".
type BasicContext struct{}

var _ ContextStrategy = BasicContext{}

func (BasicContext) VectorText(c lore.Chunk) string {
	if c.Type.IsMedia() {
		return mediaText(c)
	}
	return c.Content
}

// HierarchicalContext prefixes content with the chunk's header
// breadcrumb so "Pricing > Enterprise" and "Pricing > Free" embed apart
// even when their bodies read alike. Code chunks carry their language,
// media chunks their description or alt text.
type HierarchicalContext struct{}

var _ ContextStrategy = HierarchicalContext{}

func (HierarchicalContext) VectorText(c lore.Chunk) string {
	body := c.Content
	switch {
	case c.Type.IsMedia():
		body = mediaText(c)
		if body == "" {
			return ""
		}
	case c.Type == lore.TypeCode:
		body = c.Meta.Language + " code:\n" + c.Content
	}

	crumb := c.Meta.Breadcrumb(" > ")
	if crumb == "" {
		return body
	}
	return crumb + "\n" + body
}

func mediaText(c lore.Chunk) string {
	if d := strings.TrimSpace(c.Meta.Description); d != "" {
		return d
	}
	return strings.TrimSpace(c.Meta.AltText)
}

package ingest

import (
	"strings"
	"testing"
)

func TestContentTypeFromExtension(t *testing.T) {
	tests := []struct {
		ext  string
		want ContentType
	}{
		{"md", TypeMarkdown},
		{"markdown", TypeMarkdown},
		{"HTML", TypeHTML},
		{"htm", TypeHTML},
		{"pdf", TypePDF},
		{"txt", TypePlainText},
		{"", TypePlainText},
		{"xyz", TypePlainText},
	}
	for _, tt := range tests {
		if got := ContentTypeFromExtension(tt.ext); got != tt.want {
			t.Errorf("ContentTypeFromExtension(%q) = %q, want %q", tt.ext, got, tt.want)
		}
	}
}

func TestHTMLExtractorPromotesTitle(t *testing.T) {
	html := `<html><head><title>My Page</title></head><body><article><p>` +
		strings.Repeat("Long enough readable content. ", 30) + `</p></article></body></html>`
	out, err := (HTMLExtractor{}).Extract([]byte(html))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.HasPrefix(out, "# My Page") {
		t.Errorf("title not promoted to heading: %q", out[:min(len(out), 60)])
	}
	if strings.Contains(out, "<p>") {
		t.Error("tags leaked")
	}
}

func TestPDFExtractorRejectsEmpty(t *testing.T) {
	if _, err := NewPDFExtractor().Extract(nil); err == nil {
		t.Fatal("expected error for empty content")
	}
	if _, err := NewPDFExtractor().Extract([]byte("not a pdf")); err == nil {
		t.Fatal("expected error for junk content")
	}
}

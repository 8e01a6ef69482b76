package lore

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the library.
var (
	// ErrNotFound is returned by stores when a document or chunk does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrEmbeddingUnavailable is returned when an embedding is required
	// but the provider cannot supply one.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrLexicalUnavailable is returned when lexical-only search is
	// requested against a store without lexical capability.
	ErrLexicalUnavailable = errors.New("lexical search unavailable")
)

// ErrDimensionMismatch reports a vector whose length does not match the
// dimension the store was initialized with.
type ErrDimensionMismatch struct {
	Want int
	Got  int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// ErrHTTP carries a non-2xx response from an external API.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

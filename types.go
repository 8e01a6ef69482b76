package lore

import (
	"encoding/json"
	"fmt"
	"strings"
)

// --- Domain types (database records) ---

// ChunkType classifies a chunk (and the parser segment it came from).
type ChunkType string

const (
	TypeText     ChunkType = "text"
	TypeCode     ChunkType = "code"
	TypeTable    ChunkType = "table"
	TypeImageRef ChunkType = "image_ref"
	TypeAudioRef ChunkType = "audio_ref"
	TypeVideoRef ChunkType = "video_ref"
)

// IsMedia reports whether the type is a media reference.
func (t ChunkType) IsMedia() bool {
	return t == TypeImageRef || t == TypeAudioRef || t == TypeVideoRef
}

// Document owns zero or more chunks. Metadata is copied into every child
// chunk at creation time, never shared by reference.
type Document struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Source    string            `json:"source"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt int64             `json:"created_at"`
}

// ChunkMeta carries the fields valid for a chunk's type: Headers always,
// Language only for code, AltText/Ref only for media references.
// Use the constructors below so invalid combinations cannot be built.
type ChunkMeta struct {
	Headers     []string          `json:"headers,omitempty"`
	Language    string            `json:"language,omitempty"`
	AltText     string            `json:"alt_text,omitempty"`
	Ref         string            `json:"ref,omitempty"`
	Description string            `json:"description,omitempty"`
	Document    map[string]string `json:"document,omitempty"`
}

// TextMeta builds metadata for a text or table chunk.
func TextMeta(headers []string) ChunkMeta {
	return ChunkMeta{Headers: cloneStrings(headers)}
}

// CodeMeta builds metadata for a code chunk.
func CodeMeta(headers []string, language string) ChunkMeta {
	return ChunkMeta{Headers: cloneStrings(headers), Language: language}
}

// MediaMeta builds metadata for a media-reference chunk.
func MediaMeta(headers []string, altText, ref string) ChunkMeta {
	return ChunkMeta{Headers: cloneStrings(headers), AltText: altText, Ref: ref}
}

// Breadcrumb joins the header stack with sep, e.g. "Doc > Section > Sub".
func (m ChunkMeta) Breadcrumb(sep string) string {
	return strings.Join(m.Headers, sep)
}

func cloneStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// CloneMetadata copies a document metadata map so chunks never share it.
func CloneMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// --- Embedding state ---

// EmbeddingPhase is the lifecycle phase of a chunk's embedding.
type EmbeddingPhase string

const (
	EmbeddingPendingPhase EmbeddingPhase = "pending"
	EmbeddingReadyPhase   EmbeddingPhase = "ready"
	EmbeddingFailedPhase  EmbeddingPhase = "failed"
)

// EmbeddingState is a tagged state: Pending carries the text to embed,
// Ready carries the vector, Failed carries the reason. The zero value is
// Pending with no vector text. Fields are unexported so a Ready state
// without a vector cannot be constructed.
type EmbeddingState struct {
	phase      EmbeddingPhase
	vectorText string
	vector     []float32
	reason     string
}

// PendingEmbedding returns a Pending state carrying the text that will be
// sent to the embedding provider.
func PendingEmbedding(vectorText string) EmbeddingState {
	return EmbeddingState{phase: EmbeddingPendingPhase, vectorText: vectorText}
}

// ReadyEmbedding returns a Ready state holding vector. An empty vector is
// not a legal Ready state and yields Failed instead.
func ReadyEmbedding(vector []float32) EmbeddingState {
	if len(vector) == 0 {
		return FailedEmbedding("empty vector")
	}
	v := make([]float32, len(vector))
	copy(v, vector)
	return EmbeddingState{phase: EmbeddingReadyPhase, vector: v}
}

// FailedEmbedding returns a Failed state with the given reason.
func FailedEmbedding(reason string) EmbeddingState {
	return EmbeddingState{phase: EmbeddingFailedPhase, reason: reason}
}

// Phase returns the lifecycle phase. The zero value reports Pending.
func (s EmbeddingState) Phase() EmbeddingPhase {
	if s.phase == "" {
		return EmbeddingPendingPhase
	}
	return s.phase
}

// VectorText returns the text to embed; meaningful only while Pending.
func (s EmbeddingState) VectorText() string { return s.vectorText }

// Vector returns the embedding vector; nil unless Ready.
func (s EmbeddingState) Vector() []float32 { return s.vector }

// Reason returns the failure reason; empty unless Failed.
func (s EmbeddingState) Reason() string { return s.reason }

// IsReady reports whether the state holds a vector.
func (s EmbeddingState) IsReady() bool { return s.phase == EmbeddingReadyPhase }

type embeddingStateWire struct {
	Phase      EmbeddingPhase `json:"phase"`
	VectorText string         `json:"vector_text,omitempty"`
	Vector     []float32      `json:"vector,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

func (s EmbeddingState) MarshalJSON() ([]byte, error) {
	return json.Marshal(embeddingStateWire{
		Phase:      s.Phase(),
		VectorText: s.vectorText,
		Vector:     s.vector,
		Reason:     s.reason,
	})
}

func (s *EmbeddingState) UnmarshalJSON(data []byte) error {
	var w embeddingStateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Phase {
	case EmbeddingReadyPhase:
		*s = ReadyEmbedding(w.Vector)
	case EmbeddingFailedPhase:
		*s = FailedEmbedding(w.Reason)
	default:
		*s = PendingEmbedding(w.VectorText)
	}
	return nil
}

// --- Chunk ---

// Chunk is the smallest indexable, independently searchable unit of a
// document. Chunks are created once by the splitter; re-ingestion
// replaces them rather than mutating in place.
type Chunk struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Content    string         `json:"content"`
	Type       ChunkType      `json:"chunk_type"`
	ChunkIndex int            `json:"chunk_index"`
	Meta       ChunkMeta      `json:"metadata"`
	Embedding  EmbeddingState `json:"embedding"`
}

// Validate checks that Meta carries exactly the fields its type requires.
func (c Chunk) Validate() error {
	switch {
	case c.Type == TypeCode && c.Meta.Language == "":
		return fmt.Errorf("chunk %s: code chunk without language", c.ID)
	case c.Type != TypeCode && c.Meta.Language != "":
		return fmt.Errorf("chunk %s: language on non-code chunk", c.ID)
	case c.Type.IsMedia() && c.Meta.Ref == "":
		return fmt.Errorf("chunk %s: media chunk without reference", c.ID)
	case !c.Type.IsMedia() && c.Meta.Ref != "":
		return fmt.Errorf("chunk %s: reference on non-media chunk", c.ID)
	case c.ChunkIndex < 0:
		return fmt.Errorf("chunk %s: negative chunk index", c.ID)
	}
	return nil
}

// --- Search results ---

// RankedChunk is what the store search primitives return: a chunk plus
// the store's native score (cosine similarity for vector search, lexical
// relevance for full-text search; higher is better in both cases).
type RankedChunk struct {
	Chunk Chunk
	Score float64
}

// MatchType explains why a result was returned.
type MatchType string

const (
	MatchVector  MatchType = "vector"
	MatchFTS     MatchType = "fts"
	MatchHybrid  MatchType = "hybrid"
	MatchContext MatchType = "context"
)

// ChunkResult is a chunk-granular search hit. Score is normalized to
// 0-100 and comparable across queries.
type ChunkResult struct {
	Chunk         Chunk     `json:"chunk"`
	Score         float64   `json:"score"`
	Match         MatchType `json:"match_type"`
	DocumentID    string    `json:"document_id"`
	DocumentTitle string    `json:"document_title"`
}

// SearchResult aggregates one document's hits: the best-scoring chunk is
// the representative, the rest remain as supporting evidence.
type SearchResult struct {
	DocumentID    string        `json:"document_id"`
	DocumentTitle string        `json:"document_title"`
	Score         float64       `json:"score"`
	Best          ChunkResult   `json:"best"`
	Matches       []ChunkResult `json:"matches"`
}

// Package models holds the data types passed between docqa packages.
package models

// Document is the text extracted from the one source file the assistant
// answers questions about.
type Document struct {
	Path        string           `json:"path"`
	ContentType string           `json:"content_type"`
	Content     string           `json:"content"`
	Metadata    DocumentMetadata `json:"metadata"`
}

// DocumentMetadata is whatever the parser could recover besides the text.
// Zero values mean unknown.
type DocumentMetadata struct {
	Title string `json:"title,omitempty"`
	Pages int    `json:"pages,omitempty"` // paginated formats only
}

// Chunk is a contiguous span of Document.Content. Offsets count runes;
// EndOffset is exclusive. Index is the chunk's position and its only
// identity.
type Chunk struct {
	Index       int    `json:"index"`
	Content     string `json:"content"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
}

// ScoredChunk pairs a chunk with its cosine similarity to a query.
type ScoredChunk struct {
	Chunk
	Score float32 `json:"score"`
}

// Package chunker splits extracted document text into ordered, overlapping
// chunks suitable for embedding and retrieval.
package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/haasonsaas/docqa/pkg/models"
)

// Strategy names accepted by New.
const (
	StrategyWindow    = "window"
	StrategyRecursive = "recursive"
)

// Chunker defines the interface for text chunking strategies.
type Chunker interface {
	// Chunk splits text into chunks indexed from zero in document order.
	Chunk(text string) []models.Chunk

	// Name returns the chunker name for logging and fingerprints.
	Name() string
}

// Config contains common configuration for chunkers. Sizes are measured
// in characters (runes).
type Config struct {
	// ChunkSize is the maximum size of each chunk.
	ChunkSize int `yaml:"chunk_size"`

	// ChunkOverlap is the number of characters shared with the previous chunk.
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// DefaultConfig returns the default chunker configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    10000,
		ChunkOverlap: 1000,
	}
}

func (c Config) validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.ChunkSize, c.ChunkOverlap)
	}
	return nil
}

// New returns the chunker for a strategy name.
func New(strategy string, cfg Config) (Chunker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	switch strategy {
	case StrategyWindow, "":
		return &WindowSplitter{config: cfg}, nil
	case StrategyRecursive:
		return NewRecursiveCharacterTextSplitter(cfg), nil
	default:
		return nil, fmt.Errorf("unknown chunk strategy %q", strategy)
	}
}

// WindowSplitter cuts text into fixed-size windows that advance by
// ChunkSize-ChunkOverlap characters. Every window except possibly the
// last is exactly ChunkSize characters long.
type WindowSplitter struct {
	config Config
}

// NewWindowSplitter creates a sliding window splitter.
func NewWindowSplitter(cfg Config) (*WindowSplitter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &WindowSplitter{config: cfg}, nil
}

func (s *WindowSplitter) Name() string {
	return StrategyWindow
}

// Chunk splits text into overlapping windows. Whitespace-only input yields
// no chunks.
func (s *WindowSplitter) Chunk(text string) []models.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	step := s.config.ChunkSize - s.config.ChunkOverlap
	var chunks []models.Chunk
	for start := 0; start < len(runes); start += step {
		end := min(start+s.config.ChunkSize, len(runes))
		chunks = appendChunk(chunks, runes, start, end)
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// appendChunk adds runes[start:end] with surrounding whitespace removed.
// Offsets always describe the trimmed content.
func appendChunk(chunks []models.Chunk, runes []rune, start, end int) []models.Chunk {
	for start < end && unicode.IsSpace(runes[start]) {
		start++
	}
	for end > start && unicode.IsSpace(runes[end-1]) {
		end--
	}
	if start == end {
		return chunks
	}
	return append(chunks, models.Chunk{
		Index:       len(chunks),
		Content:     string(runes[start:end]),
		StartOffset: start,
		EndOffset:   end,
	})
}

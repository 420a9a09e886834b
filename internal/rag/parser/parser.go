// Package parser extracts plain text from source documents.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/haasonsaas/docqa/pkg/models"
)

// ErrNoText is returned when a document parses but yields no text, for
// example a scanned PDF without a text layer.
var ErrNoText = errors.New("document has no extractable text")

// Parser defines the interface for document parsers.
type Parser interface {
	// Parse extracts text and metadata from the raw document bytes.
	Parse(ctx context.Context, reader io.Reader) (*ParseResult, error)

	// Name returns the parser name for logging.
	Name() string

	// SupportedTypes returns the MIME types this parser can handle.
	SupportedTypes() []string

	// SupportedExtensions returns the file extensions this parser can handle.
	SupportedExtensions() []string
}

// ParseResult contains the output of a parsing operation.
type ParseResult struct {
	Content  string
	Metadata models.DocumentMetadata
}

// Registry manages available parsers.
type Registry struct {
	mu            sync.RWMutex
	parsersByType map[string]Parser
	parsersByExt  map[string]Parser
}

// NewRegistry creates a registry holding parsers.
func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{
		parsersByType: make(map[string]Parser),
		parsersByExt:  make(map[string]Parser),
	}
	for _, p := range parsers {
		r.Register(p)
	}
	return r
}

// Register adds a parser for all its supported types and extensions.
func (r *Registry) Register(parser Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, mimeType := range parser.SupportedTypes() {
		r.parsersByType[strings.ToLower(mimeType)] = parser
	}
	for _, ext := range parser.SupportedExtensions() {
		r.parsersByExt[normalizeExt(ext)] = parser
	}
}

// Get returns the parser for a content type, falling back to the extension.
func (r *Registry) Get(contentType, ext string) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if contentType != "" {
		if idx := strings.Index(contentType, ";"); idx != -1 {
			contentType = contentType[:idx]
		}
		if p, ok := r.parsersByType[strings.ToLower(strings.TrimSpace(contentType))]; ok {
			return p, nil
		}
	}
	if ext != "" {
		if p, ok := r.parsersByExt[normalizeExt(ext)]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no parser found for content type %q, extension %q", contentType, ext)
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// ParseFile reads and parses the document at path. It returns ErrNoText
// (wrapped) when the document contains no text after trimming.
func (r *Registry) ParseFile(ctx context.Context, path string) (*models.Document, error) {
	ext := filepath.Ext(path)
	contentType := mime.TypeByExtension(ext)

	p, err := r.Get(contentType, ext)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	result, err := p.Parse(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s parser: %w", p.Name(), err)
	}
	if strings.TrimSpace(result.Content) == "" {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrNoText)
	}

	if contentType == "" && len(p.SupportedTypes()) > 0 {
		contentType = p.SupportedTypes()[0]
	}
	return &models.Document{
		Path:        path,
		ContentType: contentType,
		Content:     result.Content,
		Metadata:    result.Metadata,
	}, nil
}

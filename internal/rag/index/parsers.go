package index

import (
	"github.com/haasonsaas/docqa/internal/rag/parser"
	"github.com/haasonsaas/docqa/internal/rag/parser/pdf"
	"github.com/haasonsaas/docqa/internal/rag/parser/text"
)

// DefaultParsers returns a registry with the PDF and plain text parsers.
func DefaultParsers() *parser.Registry {
	return parser.NewRegistry(pdf.New(), text.New())
}

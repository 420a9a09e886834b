// Package text reads plain text and markdown copies of the source
// document.
package text

import (
	"context"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/haasonsaas/docqa/internal/rag/parser"
	"github.com/haasonsaas/docqa/pkg/models"
)

const maxTitleRunes = 100

type Parser struct{}

func New() *Parser { return &Parser{} }

func (p *Parser) Name() string { return "text" }

func (p *Parser) SupportedTypes() []string {
	return []string{"text/plain", "text/markdown"}
}

func (p *Parser) SupportedExtensions() []string {
	return []string{".txt", ".text", ".md", ".markdown"}
}

// Parse returns the document with LF line endings in NFC form. The first
// non-blank line, stripped of markdown heading marks, becomes the title.
func (p *Parser) Parse(ctx context.Context, r io.Reader) (*parser.ParseResult, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content := norm.NFC.String(strings.ReplaceAll(string(raw), "\r\n", "\n"))
	return &parser.ParseResult{
		Content:  content,
		Metadata: models.DocumentMetadata{Title: titleOf(content)},
	}, nil
}

func titleOf(content string) string {
	for line := range strings.Lines(content) {
		line = strings.TrimSpace(strings.TrimLeft(line, "# "))
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) <= maxTitleRunes {
			return line
		}
		return string([]rune(line)[:maxTitleRunes]) + "..."
	}
	return ""
}

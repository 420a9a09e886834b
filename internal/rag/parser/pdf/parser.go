// Package pdf extracts the text layer of PDF documents.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/unicode/norm"

	"github.com/haasonsaas/docqa/internal/rag/parser"
	"github.com/haasonsaas/docqa/pkg/models"
)

// Parser extracts text page by page. Pages without a text layer
// contribute nothing; a document where every page is empty yields empty
// content, which callers treat as an extraction failure.
type Parser struct{}

func New() *Parser {
	return &Parser{}
}

func (p *Parser) Name() string {
	return "pdf"
}

func (p *Parser) SupportedTypes() []string {
	return []string{"application/pdf"}
}

func (p *Parser) SupportedExtensions() []string {
	return []string{".pdf"}
}

// Parse concatenates the text of every page in order.
func (p *Parser) Parse(ctx context.Context, reader io.Reader) (result *parser.ParseResult, err error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	// The pdf package panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	pages := doc.NumPage()
	fonts := make(map[string]*pdf.Font)
	var b strings.Builder
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := page.Font(name)
				fonts[name] = &f
			}
		}
		text, err := page.GetPlainText(fonts)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		b.WriteString(text)
	}

	return &parser.ParseResult{
		Content: norm.NFC.String(b.String()),
		Metadata: models.DocumentMetadata{
			Title: strings.TrimSpace(doc.Trailer().Key("Info").Key("Title").Text()),
			Pages: pages,
		},
	}, nil
}

package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/docqa/pkg/models"
)

// RecursiveCharacterTextSplitter splits on larger separators first and falls
// back to smaller ones for pieces that are still too long, then merges the
// pieces back into chunks of at most ChunkSize characters that share up to
// ChunkOverlap characters with their predecessor.
type RecursiveCharacterTextSplitter struct {
	config     Config
	separators []string
}

// DefaultSeparators returns the default separator hierarchy, from
// paragraphs down to single characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// NewRecursiveCharacterTextSplitter creates a new recursive text splitter.
// Invalid sizes fall back to DefaultConfig values.
func NewRecursiveCharacterTextSplitter(cfg Config) *RecursiveCharacterTextSplitter {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}
	return &RecursiveCharacterTextSplitter{
		config:     cfg,
		separators: DefaultSeparators,
	}
}

// WithSeparators sets custom separators. An empty separator is appended
// when missing so every piece can eventually fit.
func (s *RecursiveCharacterTextSplitter) WithSeparators(seps []string) *RecursiveCharacterTextSplitter {
	if len(seps) == 0 || seps[len(seps)-1] != "" {
		seps = append(append([]string(nil), seps...), "")
	}
	s.separators = seps
	return s
}

func (s *RecursiveCharacterTextSplitter) Name() string {
	return StrategyRecursive
}

// piece is a contiguous span of the source text; start is a rune offset.
type piece struct {
	text  string
	start int
	size  int
}

// Chunk splits text using the separator hierarchy.
func (s *RecursiveCharacterTextSplitter) Chunk(text string) []models.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	var chunks []models.Chunk
	for _, span := range s.split(text, 0, s.separators) {
		chunks = appendChunk(chunks, runes, span.start, span.start+span.size)
	}
	return chunks
}

// split returns merged spans of text, which begins at rune offset base.
func (s *RecursiveCharacterTextSplitter) split(text string, base int, separators []string) []piece {
	separator := ""
	rest := []string(nil)
	for i, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var result, fitting []piece
	for _, p := range splitKeepSeparator(text, separator, base) {
		if p.size <= s.config.ChunkSize {
			fitting = append(fitting, p)
			continue
		}
		result = append(result, s.merge(fitting)...)
		fitting = nil
		if len(rest) == 0 {
			result = append(result, p)
			continue
		}
		result = append(result, s.split(p.text, p.start, rest)...)
	}
	return append(result, s.merge(fitting)...)
}

// merge joins consecutive pieces into spans no longer than ChunkSize,
// carrying trailing pieces of up to ChunkOverlap characters into the next
// span.
func (s *RecursiveCharacterTextSplitter) merge(pieces []piece) []piece {
	var (
		out     []piece
		current []piece
		total   int
	)
	emit := func() {
		var b strings.Builder
		for _, p := range current {
			b.WriteString(p.text)
		}
		out = append(out, piece{text: b.String(), start: current[0].start, size: total})
	}

	for _, p := range pieces {
		if total+p.size > s.config.ChunkSize && len(current) > 0 {
			emit()
			for total > s.config.ChunkOverlap || (total+p.size > s.config.ChunkSize && total > 0) {
				total -= current[0].size
				current = current[1:]
			}
		}
		current = append(current, p)
		total += p.size
	}
	if len(current) > 0 {
		emit()
	}
	return out
}

// splitKeepSeparator splits text after each separator occurrence so the
// pieces concatenate back to text. An empty separator splits into runes.
func splitKeepSeparator(text, separator string, base int) []piece {
	var pieces []piece
	offset := base
	add := func(s string) {
		n := utf8.RuneCountInString(s)
		pieces = append(pieces, piece{text: s, start: offset, size: n})
		offset += n
	}

	if separator == "" {
		for _, r := range text {
			add(string(r))
		}
		return pieces
	}
	for len(text) > 0 {
		idx := strings.Index(text, separator)
		if idx < 0 {
			add(text)
			break
		}
		add(text[:idx+len(separator)])
		text = text[idx+len(separator):]
	}
	return pieces
}

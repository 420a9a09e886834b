package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/haasonsaas/docqa/internal/embeddings"
	"github.com/haasonsaas/docqa/internal/observability"
	"github.com/haasonsaas/docqa/internal/rag/chunker"
	"github.com/haasonsaas/docqa/internal/rag/parser"
)

// Manager coordinates the indexing pipeline for the source document:
// parse, chunk, embed, persist. It decides between loading the persisted
// index and rebuilding it by comparing fingerprints.
type Manager struct {
	config   Config
	parsers  *parser.Registry
	chunker  chunker.Chunker
	embedder embeddings.Provider
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// Config contains configuration for the index manager.
type Config struct {
	// Dir is the index directory.
	Dir string

	// SourcePath is the document to index.
	SourcePath string

	// ChunkStrategy is window or recursive.
	ChunkStrategy string

	ChunkSize    int
	ChunkOverlap int
}

// Option configures a Manager.
type Option func(*Manager)

// WithParsers replaces the default parser registry.
func WithParsers(r *parser.Registry) Option {
	return func(m *Manager) { m.parsers = r }
}

func WithLogger(l *observability.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a new index manager.
func NewManager(cfg Config, embedder embeddings.Provider, opts ...Option) (*Manager, error) {
	if cfg.Dir == "" || cfg.SourcePath == "" {
		return nil, errors.New("index: dir and source path are required")
	}
	c, err := chunker.New(cfg.ChunkStrategy, chunker.Config{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
	})
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}

	m := &Manager{
		config:   cfg,
		chunker:  c,
		embedder: embedder,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.parsers == nil {
		m.parsers = DefaultParsers()
	}
	if m.logger == nil {
		m.logger = observability.NopLogger()
	}
	return m, nil
}

// Mode reports how LoadOrBuild produced its index.
type Mode string

const (
	ModeLoaded Mode = "load"
	ModeBuilt  Mode = "build"
)

// Result describes a LoadOrBuild call.
type Result struct {
	Mode        Mode
	Fingerprint string
	ChunkCount  int
	Duration    time.Duration

	// Reason explains why a build happened.
	Reason string
}

// Fingerprint reads the source document and returns the fingerprint an
// index built from it with the current settings would carry.
func (m *Manager) Fingerprint() (string, error) {
	source, err := os.ReadFile(m.config.SourcePath)
	if err != nil {
		return "", fmt.Errorf("read source document: %w", err)
	}
	return m.fingerprint(source), nil
}

func (m *Manager) fingerprint(source []byte) string {
	return Fingerprint(source, FingerprintParams{
		ChunkStrategy:     m.chunker.Name(),
		ChunkSize:         m.config.ChunkSize,
		ChunkOverlap:      m.config.ChunkOverlap,
		EmbeddingProvider: m.embedder.Name(),
		EmbeddingModel:    m.embedder.Model(),
	})
}

// LoadOrBuild loads the persisted index when its fingerprint matches the
// source document and settings, and rebuilds it otherwise. force always
// rebuilds.
func (m *Manager) LoadOrBuild(ctx context.Context, force bool) (*Index, *Result, error) {
	start := time.Now()
	fp, err := m.Fingerprint()
	if err != nil {
		return nil, nil, err
	}

	reason := "forced"
	if !force {
		reason = m.staleReason(ctx, fp)
		if reason == "" {
			idx, err := Load(ctx, m.config.Dir)
			if err == nil {
				m.metrics.RecordIndex(string(ModeLoaded), "success", idx.Len())
				m.logger.Info(ctx, "loaded vector index", "dir", m.config.Dir, "chunks", idx.Len())
				return idx, &Result{
					Mode:        ModeLoaded,
					Fingerprint: fp,
					ChunkCount:  idx.Len(),
					Duration:    time.Since(start),
				}, nil
			}
			m.metrics.RecordIndex(string(ModeLoaded), "error", 0)
			reason = fmt.Sprintf("load failed: %v", err)
		}
	}

	m.logger.Info(ctx, "building vector index", "dir", m.config.Dir, "reason", reason)
	idx, err := m.build(ctx, fp)
	if err != nil {
		m.metrics.RecordIndex(string(ModeBuilt), "error", 0)
		return nil, nil, err
	}
	m.metrics.RecordIndex(string(ModeBuilt), "success", idx.Len())
	m.logger.Info(ctx, "built vector index", "dir", m.config.Dir, "chunks", idx.Len(), "duration", time.Since(start))
	return idx, &Result{
		Mode:        ModeBuilt,
		Fingerprint: fp,
		ChunkCount:  idx.Len(),
		Duration:    time.Since(start),
		Reason:      reason,
	}, nil
}

func (m *Manager) staleReason(ctx context.Context, fp string) string {
	meta, err := ReadMetadata(ctx, m.config.Dir)
	switch {
	case errors.Is(err, ErrNotFound):
		return "no index on disk"
	case err != nil:
		return fmt.Sprintf("unreadable metadata: %v", err)
	case meta.Fingerprint != fp:
		return "fingerprint changed"
	}
	return ""
}

// build runs parse, chunk, embed and persist. Documents without text
// fail with an error wrapping parser.ErrNoText.
func (m *Manager) build(ctx context.Context, fp string) (*Index, error) {
	doc, err := m.parsers.ParseFile(ctx, m.config.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}

	chunks := m.chunker.Chunk(doc.Content)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("extract text: %w", parser.ErrNoText)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}

	return Build(ctx, m.config.Dir, chunks, vectors, Metadata{
		Fingerprint:       fp,
		SourcePath:        m.config.SourcePath,
		ChunkStrategy:     m.chunker.Name(),
		ChunkSize:         m.config.ChunkSize,
		ChunkOverlap:      m.config.ChunkOverlap,
		EmbeddingProvider: m.embedder.Name(),
		EmbeddingModel:    m.embedder.Model(),
	})
}

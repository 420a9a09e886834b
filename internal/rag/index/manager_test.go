package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/haasonsaas/docqa/internal/rag/parser"
)

// keywordEmbedder embeds text as counts of a few keywords so similarity
// is predictable.
type keywordEmbedder struct {
	model      string
	batchCalls atomic.Int32
	fail       error
}

var keywords = []string{"go", "python", "hiking"}

func (e *keywordEmbedder) vector(text string) []float32 {
	text = strings.ToLower(text)
	v := make([]float32, len(keywords)+1)
	for i, k := range keywords {
		v[i] = float32(strings.Count(text, k))
	}
	v[len(keywords)] = 0.01
	return v
}

func (e *keywordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.batchCalls.Add(1)
	if e.fail != nil {
		return nil, e.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (e *keywordEmbedder) Name() string { return "keyword" }

func (e *keywordEmbedder) Model() string {
	if e.model == "" {
		return "v1"
	}
	return e.model
}

func (e *keywordEmbedder) MaxBatchSize() int { return 100 }

func newTestManager(t *testing.T, source string, embedder *keywordEmbedder) (*Manager, Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		Dir:           filepath.Join(dir, "index"),
		SourcePath:    filepath.Join(dir, "profile.txt"),
		ChunkStrategy: "window",
		ChunkSize:     40,
		ChunkOverlap:  5,
	}
	if err := os.WriteFile(cfg.SourcePath, []byte(source), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(cfg, embedder)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m, cfg
}

const profile = "Semanto writes Go services every day. " +
	"He also maintains python tooling for data. " +
	"On weekends he goes hiking in the hills."

func TestLoadOrBuildBuildsThenLoads(t *testing.T) {
	ctx := context.Background()
	embedder := &keywordEmbedder{}
	m, _ := newTestManager(t, profile, embedder)

	idx, res, err := m.LoadOrBuild(ctx, false)
	if err != nil {
		t.Fatalf("LoadOrBuild() error = %v", err)
	}
	if res.Mode != ModeBuilt || res.Reason != "no index on disk" {
		t.Errorf("first call = %+v, want build because nothing is on disk", res)
	}
	if idx.Len() < 2 {
		t.Fatalf("expected several chunks, got %d", idx.Len())
	}

	_, res, err = m.LoadOrBuild(ctx, false)
	if err != nil {
		t.Fatalf("second LoadOrBuild() error = %v", err)
	}
	if res.Mode != ModeLoaded {
		t.Errorf("second call mode = %s, want load", res.Mode)
	}
	if embedder.batchCalls.Load() != 1 {
		t.Errorf("documents embedded %d times, want 1", embedder.batchCalls.Load())
	}

	_, res, err = m.LoadOrBuild(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != ModeBuilt || res.Reason != "forced" {
		t.Errorf("forced call = %+v", res)
	}
}

func TestLoadOrBuildRebuildsOnChange(t *testing.T) {
	ctx := context.Background()
	embedder := &keywordEmbedder{}
	m, cfg := newTestManager(t, profile, embedder)

	if _, _, err := m.LoadOrBuild(ctx, false); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.SourcePath, []byte(profile+" Now also learning Rust."), 0o644); err != nil {
		t.Fatal(err)
	}
	_, res, err := m.LoadOrBuild(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != ModeBuilt || res.Reason != "fingerprint changed" {
		t.Errorf("after source change = %+v", res)
	}

	// A different embedding model also invalidates the index.
	embedder.model = "v2"
	_, res, err = m.LoadOrBuild(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != ModeBuilt {
		t.Errorf("after model change mode = %s", res.Mode)
	}
}

func TestLoadOrBuildRetrievesRelevantChunk(t *testing.T) {
	ctx := context.Background()
	embedder := &keywordEmbedder{}
	m, _ := newTestManager(t, profile, embedder)

	idx, _, err := m.LoadOrBuild(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	q, _ := embedder.Embed(ctx, "hiking")
	got, err := idx.Query(q, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != min(4, idx.Len()) {
		t.Fatalf("got %d chunks", len(got))
	}
	if !strings.Contains(got[0].Content, "hiking") {
		t.Errorf("top chunk = %q", got[0].Content)
	}
}

func TestLoadOrBuildEmptyDocument(t *testing.T) {
	m, cfg := newTestManager(t, "   \n\n  ", &keywordEmbedder{})
	_, _, err := m.LoadOrBuild(context.Background(), false)
	if !errors.Is(err, parser.ErrNoText) {
		t.Fatalf("err = %v, want ErrNoText", err)
	}
	if Exists(cfg.Dir) {
		t.Error("no index should be written for an empty document")
	}
}

func TestLoadOrBuildEmbeddingFailure(t *testing.T) {
	wantErr := errors.New("quota exceeded")
	m, cfg := newTestManager(t, profile, &keywordEmbedder{fail: wantErr})
	_, _, err := m.LoadOrBuild(context.Background(), false)
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if Exists(cfg.Dir) {
		t.Error("no index should be written when embedding fails")
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	if _, err := NewManager(Config{}, &keywordEmbedder{}); err == nil {
		t.Error("expected error for missing paths")
	}
	cfg := Config{Dir: "i", SourcePath: "s", ChunkStrategy: "window", ChunkSize: 10, ChunkOverlap: 20}
	if _, err := NewManager(cfg, &keywordEmbedder{}); err == nil {
		t.Error("expected error for overlap larger than size")
	}
}

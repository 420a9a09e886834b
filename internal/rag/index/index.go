// Package index builds, persists and queries the flat vector index over the
// chunks of the source document.
//
// An index directory holds two files: index.vec, a little-endian float32
// matrix with one row per chunk, and index.db, a SQLite database with the
// chunk text and build metadata including the content fingerprint.
package index

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/haasonsaas/docqa/pkg/models"
)

const (
	vectorFile = "index.vec"
	storeFile  = "index.db"
)

// ErrNotFound is returned by Load and ReadMetadata when the index
// directory does not contain both index files.
var ErrNotFound = errors.New("index: not found")

// Index is an immutable in-memory copy of a persisted index. It is safe
// for concurrent use.
type Index struct {
	chunks  []models.Chunk
	vectors [][]float32
	norms   []float32
	meta    Metadata
}

// Build validates chunks and vectors, writes them into a fresh directory
// next to dir and swaps it into place, replacing any previous index.
func Build(ctx context.Context, dir string, chunks []models.Chunk, vectors [][]float32, meta Metadata) (*Index, error) {
	if len(chunks) == 0 {
		return nil, errors.New("index: no chunks to index")
	}
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("index: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	meta.Dimension = len(vectors[0])
	meta.ChunkCount = len(chunks)
	if meta.BuiltAt.IsZero() {
		meta.BuiltAt = time.Now()
	}
	idx, err := newIndex(chunks, vectors, meta)
	if err != nil {
		return nil, err
	}

	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("create index parent: %w", err)
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+"-build-*")
	if err != nil {
		return nil, fmt.Errorf("create build dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := writeVectors(filepath.Join(tmp, vectorFile), vectors); err != nil {
		return nil, fmt.Errorf("write vectors: %w", err)
	}
	if err := writeStore(ctx, filepath.Join(tmp, storeFile), chunks, meta); err != nil {
		return nil, fmt.Errorf("write chunk store: %w", err)
	}
	if err := replaceDir(tmp, dir); err != nil {
		return nil, err
	}
	return idx, nil
}

// replaceDir moves src to dst, keeping the previous dst until the rename
// has succeeded.
func replaceDir(src, dst string) error {
	var backup string
	if _, err := os.Stat(dst); err == nil {
		backup = dst + ".old-" + strconv.FormatInt(time.Now().UnixNano(), 36)
		if err := os.Rename(dst, backup); err != nil {
			return fmt.Errorf("move previous index aside: %w", err)
		}
	}
	if err := os.Rename(src, dst); err != nil {
		if backup != "" {
			_ = os.Rename(backup, dst)
		}
		return fmt.Errorf("install index: %w", err)
	}
	if backup != "" {
		_ = os.RemoveAll(backup)
	}
	return nil
}

// Exists reports whether dir contains both index files.
func Exists(dir string) bool {
	for _, name := range []string{vectorFile, storeFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

// ReadMetadata returns the stored build metadata without loading vectors.
func ReadMetadata(ctx context.Context, dir string) (Metadata, error) {
	if !Exists(dir) {
		return Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, dir)
	}
	db, err := openStore(ctx, filepath.Join(dir, storeFile))
	if err != nil {
		return Metadata{}, err
	}
	defer db.Close()
	return readStoreMetadata(ctx, db)
}

// Load reads a persisted index into memory.
func Load(ctx context.Context, dir string) (*Index, error) {
	if !Exists(dir) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
	}
	db, err := openStore(ctx, filepath.Join(dir, storeFile))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	meta, err := readStoreMetadata(ctx, db)
	if err != nil {
		return nil, err
	}
	chunks, err := readStoreChunks(ctx, db)
	if err != nil {
		return nil, err
	}
	vectors, dim, err := readVectors(filepath.Join(dir, vectorFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return nil, err
	}
	if dim != meta.Dimension || len(vectors) != meta.ChunkCount || len(chunks) != meta.ChunkCount {
		return nil, fmt.Errorf("%w: metadata says %d chunks of dimension %d, found %d chunks and %d vectors of dimension %d",
			ErrCorrupt, meta.ChunkCount, meta.Dimension, len(chunks), len(vectors), dim)
	}
	return newIndex(chunks, vectors, meta)
}

func newIndex(chunks []models.Chunk, vectors [][]float32, meta Metadata) (*Index, error) {
	dim := len(vectors[0])
	if dim == 0 {
		return nil, errors.New("index: empty vectors")
	}
	norms := make([]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("index: vector %d has dimension %d, want %d", i, len(v), dim)
		}
		norms[i] = norm(v)
	}
	return &Index{chunks: chunks, vectors: vectors, norms: norms, meta: meta}, nil
}

// Len returns the number of chunks.
func (x *Index) Len() int { return len(x.chunks) }

// Dimension returns the embedding dimension.
func (x *Index) Dimension() int { return len(x.vectors[0]) }

// Metadata returns the build metadata.
func (x *Index) Metadata() Metadata { return x.meta }

// Chunks returns a copy of the indexed chunks in document order.
func (x *Index) Chunks() []models.Chunk {
	return slices.Clone(x.chunks)
}

// Query returns the min(k, Len()) chunks most similar to vector by cosine
// similarity, highest first. Ties keep document order.
func (x *Index) Query(vector []float32, k int) ([]models.ScoredChunk, error) {
	if len(vector) != x.Dimension() {
		return nil, fmt.Errorf("index: query dimension %d, index dimension %d", len(vector), x.Dimension())
	}
	if k <= 0 {
		return nil, nil
	}

	qnorm := norm(vector)
	scored := make([]models.ScoredChunk, len(x.chunks))
	for i, v := range x.vectors {
		scored[i] = models.ScoredChunk{Chunk: x.chunks[i], Score: cosine(vector, v, qnorm, x.norms[i])}
	}
	slices.SortStableFunc(scored, func(a, b models.ScoredChunk) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Index, b.Index)
	})
	return scored[:min(k, len(scored))], nil
}

func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

func cosine(a, b []float32, na, nb float32) float32 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (float64(na) * float64(nb)))
}

package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/haasonsaas/docqa/pkg/models"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Metadata describes a built index. It is stored in the companion
// database next to the chunks.
type Metadata struct {
	Fingerprint       string
	SourcePath        string
	ChunkStrategy     string
	ChunkSize         int
	ChunkOverlap      int
	EmbeddingProvider string
	EmbeddingModel    string
	Dimension         int
	ChunkCount        int
	BuiltAt           time.Time
}

var storeSchema = []string{
	`CREATE TABLE IF NOT EXISTS chunks (
		idx INTEGER PRIMARY KEY,
		content TEXT NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

func openStore(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open index store: %w", err)
	}
	return db, nil
}

// writeStore creates the companion database holding chunks and metadata.
func writeStore(ctx context.Context, path string, chunks []models.Chunk, meta Metadata) error {
	db, err := openStore(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, stmt := range storeSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index schema: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (idx, content, start_offset, end_offset) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.Index, c.Content, c.StartOffset, c.EndOffset); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
	}

	for key, value := range meta.values() {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, key, value); err != nil {
			return fmt.Errorf("insert meta %s: %w", key, err)
		}
	}
	return tx.Commit()
}

func readStoreMetadata(ctx context.Context, db *sql.DB) (Metadata, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: read meta: %v", ErrCorrupt, err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Metadata{}, err
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return Metadata{}, err
	}
	return metadataFromValues(values)
}

func readStoreChunks(ctx context.Context, db *sql.DB) ([]models.Chunk, error) {
	rows, err := db.QueryContext(ctx, `SELECT idx, content, start_offset, end_offset FROM chunks ORDER BY idx`)
	if err != nil {
		return nil, fmt.Errorf("%w: read chunks: %v", ErrCorrupt, err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.Index, &c.Content, &c.StartOffset, &c.EndOffset); err != nil {
			return nil, err
		}
		if c.Index != len(chunks) {
			return nil, fmt.Errorf("%w: chunk index gap at %d", ErrCorrupt, len(chunks))
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (m Metadata) values() map[string]string {
	return map[string]string{
		"fingerprint":        m.Fingerprint,
		"source_path":        m.SourcePath,
		"chunk_strategy":     m.ChunkStrategy,
		"chunk_size":         strconv.Itoa(m.ChunkSize),
		"chunk_overlap":      strconv.Itoa(m.ChunkOverlap),
		"embedding_provider": m.EmbeddingProvider,
		"embedding_model":    m.EmbeddingModel,
		"dimension":          strconv.Itoa(m.Dimension),
		"chunk_count":        strconv.Itoa(m.ChunkCount),
		"built_at":           m.BuiltAt.UTC().Format(time.RFC3339Nano),
	}
}

func metadataFromValues(v map[string]string) (Metadata, error) {
	if v["fingerprint"] == "" {
		return Metadata{}, fmt.Errorf("%w: missing fingerprint", ErrCorrupt)
	}
	meta := Metadata{
		Fingerprint:       v["fingerprint"],
		SourcePath:        v["source_path"],
		ChunkStrategy:     v["chunk_strategy"],
		EmbeddingProvider: v["embedding_provider"],
		EmbeddingModel:    v["embedding_model"],
	}
	var err error
	ints := []struct {
		key string
		dst *int
	}{
		{"chunk_size", &meta.ChunkSize},
		{"chunk_overlap", &meta.ChunkOverlap},
		{"dimension", &meta.Dimension},
		{"chunk_count", &meta.ChunkCount},
	}
	for _, f := range ints {
		if *f.dst, err = strconv.Atoi(v[f.key]); err != nil {
			return Metadata{}, fmt.Errorf("%w: meta %s: %v", ErrCorrupt, f.key, err)
		}
	}
	if builtAt := v["built_at"]; builtAt != "" {
		if meta.BuiltAt, err = time.Parse(time.RFC3339Nano, builtAt); err != nil {
			return Metadata{}, fmt.Errorf("%w: meta built_at: %v", ErrCorrupt, err)
		}
	}
	return meta, nil
}

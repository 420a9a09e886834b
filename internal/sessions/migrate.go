package sessions

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration is one embedded schema change, read from NNN_name.up.sql and
// NNN_name.down.sql.
type Migration struct {
	ID      string
	UpSQL   string
	DownSQL string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	ID        string
	AppliedAt time.Time
}

// Migrator versions the session schema. Each migration runs in its own
// transaction together with its schema_migrations bookkeeping.
type Migrator struct {
	db         *sql.DB
	dialect    Dialect
	migrations []Migration
}

func NewMigrator(db *sql.DB, dialect Dialect) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	migrations, err := loadMigrations()
	if err != nil {
		return nil, err
	}
	return &Migrator{db: db, dialect: dialect, migrations: migrations}, nil
}

// EnsureSchema creates schema_migrations if needed. applied_at holds unix
// nanoseconds so both dialects share one column type.
func (m *Migrator) EnsureSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (
		id TEXT PRIMARY KEY,
		applied_at BIGINT NOT NULL
	)`
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

// Up applies up to steps pending migrations in ID order, all of them when
// steps <= 0, and returns the IDs applied. On error the IDs applied before
// the failure are still returned.
func (m *Migrator) Up(ctx context.Context, steps int) ([]string, error) {
	_, pending, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	if steps > 0 && steps < len(pending) {
		pending = pending[:steps]
	}

	insert := rebind(m.dialect, `INSERT INTO schema_migrations (id, applied_at) VALUES (?, ?)`)
	var done []string
	for _, mig := range pending {
		if strings.TrimSpace(mig.UpSQL) == "" {
			return done, fmt.Errorf("migration %s has no up script", mig.ID)
		}
		if err := m.apply(ctx, mig.UpSQL, insert, mig.ID, time.Now().UnixNano()); err != nil {
			return done, fmt.Errorf("apply migration %s: %w", mig.ID, err)
		}
		done = append(done, mig.ID)
	}
	return done, nil
}

// Down reverts the most recent steps migrations (at least one), newest
// first.
func (m *Migrator) Down(ctx context.Context, steps int) ([]string, error) {
	applied, _, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	steps = min(max(steps, 1), len(applied))

	remove := rebind(m.dialect, `DELETE FROM schema_migrations WHERE id = ?`)
	var done []string
	for _, entry := range slices.Backward(applied[len(applied)-steps:]) {
		idx := slices.IndexFunc(m.migrations, func(mig Migration) bool { return mig.ID == entry.ID })
		if idx < 0 {
			return done, fmt.Errorf("applied migration %s is unknown to this build", entry.ID)
		}
		mig := m.migrations[idx]
		if strings.TrimSpace(mig.DownSQL) == "" {
			return done, fmt.Errorf("migration %s has no down script", mig.ID)
		}
		if err := m.apply(ctx, mig.DownSQL, remove, mig.ID); err != nil {
			return done, fmt.Errorf("revert migration %s: %w", mig.ID, err)
		}
		done = append(done, mig.ID)
	}
	return done, nil
}

// Status lists applied migrations (oldest first) and the known ones not
// yet applied.
func (m *Migrator) Status(ctx context.Context) ([]AppliedMigration, []Migration, error) {
	if err := m.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, nil, err
	}
	var pending []Migration
	for _, mig := range m.migrations {
		if !slices.ContainsFunc(applied, func(a AppliedMigration) bool { return a.ID == mig.ID }) {
			pending = append(pending, mig)
		}
	}
	return applied, pending, nil
}

func (m *Migrator) apply(ctx context.Context, script, bookkeeping string, args ...any) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Migrator) applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id, applied_at FROM schema_migrations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var id string
		var nanos int64
		if err := rows.Scan(&id, &nanos); err != nil {
			return nil, fmt.Errorf("read schema_migrations: %w", err)
		}
		out = append(out, AppliedMigration{ID: id, AppliedAt: time.Unix(0, nanos)})
	}
	return out, rows.Err()
}

// loadMigrations pairs the embedded up/down scripts by ID, sorted by ID.
func loadMigrations() ([]Migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byID := map[string]*Migration{}
	for _, entry := range entries {
		name := entry.Name()
		id, direction, ok := splitMigrationName(name)
		if !ok {
			continue
		}
		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		mig := byID[id]
		if mig == nil {
			mig = &Migration{ID: id}
			byID[id] = mig
		}
		if direction == "up" {
			mig.UpSQL = string(data)
		} else {
			mig.DownSQL = string(data)
		}
	}

	out := make([]Migration, 0, len(byID))
	for _, mig := range byID {
		out = append(out, *mig)
	}
	slices.SortFunc(out, func(a, b Migration) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// splitMigrationName splits "001_x.up.sql" into "001_x" and "up".
func splitMigrationName(name string) (id, direction string, ok bool) {
	stem, found := strings.CutSuffix(name, ".sql")
	if !found {
		return "", "", false
	}
	for _, dir := range []string{"up", "down"} {
		if id, found := strings.CutSuffix(stem, "."+dir); found && id != "" {
			return id, dir, true
		}
	}
	return "", "", false
}

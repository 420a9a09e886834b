package sessions

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/docqa/pkg/models"
	_ "github.com/lib/pq"    // Postgres driver
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore implements Store on SQLite or Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// SQLConfig holds connection pool settings.
type SQLConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultSQLConfig returns default pool settings.
func DefaultSQLConfig() SQLConfig {
	return SQLConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// OpenSQLStore opens the database, verifies the connection and creates
// the schema.
func OpenSQLStore(ctx context.Context, dialect Dialect, dsn string, cfg SQLConfig) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	var driver string
	switch dialect {
	case DialectSQLite:
		driver = "sqlite"
		// SQLite allows a single writer, and an in-memory database lives
		// only as long as its connection.
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	case DialectPostgres:
		driver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewSQLStore(db, dialect)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open database without touching the schema.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// DB exposes the underlying database connection for the locker.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Migrate applies pending schema migrations.
func (s *SQLStore) Migrate(ctx context.Context) error {
	migrator, err := NewMigrator(s.db, s.dialect)
	if err != nil {
		return err
	}
	if _, err := migrator.Up(ctx, 0); err != nil {
		return fmt.Errorf("failed to migrate session schema: %w", err)
	}
	return nil
}

func (s *SQLStore) rebind(query string) string {
	return rebind(s.dialect, query)
}

// rebind rewrites ? placeholders to $N for Postgres.
func rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) ensureSession(ctx context.Context, ex execer, id string, now time.Time) error {
	_, err := ex.ExecContext(ctx, s.rebind(`
		INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`), id, now.UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *SQLStore) GetOrCreate(ctx context.Context, id string) (*models.Session, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if err := s.ensureSession(ctx, s.db, id, time.Now()); err != nil {
		return nil, err
	}

	var created, updated int64
	session := &models.Session{ID: id}
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT s.created_at, s.updated_at, (SELECT COUNT(*) FROM turns t WHERE t.session_id = s.id)
		FROM sessions s WHERE s.id = ?
	`), id).Scan(&created, &updated, &session.TurnCount)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	session.CreatedAt = time.Unix(0, created)
	session.UpdatedAt = time.Unix(0, updated)
	return session, nil
}

func (s *SQLStore) History(ctx context.Context, id string) ([]models.Turn, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT role, content, created_at FROM turns
		WHERE session_id = ?
		ORDER BY seq
	`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var turns []models.Turn
	for rows.Next() {
		var (
			role    string
			t       models.Turn
			created int64
		)
		if err := rows.Scan(&role, &t.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		if t.Role, err = models.ParseRole(role); err != nil {
			return nil, err
		}
		t.CreatedAt = time.Unix(0, created)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}
	return turns, nil
}

// Append inserts the turns after the current last sequence number in one
// transaction.
func (s *SQLStore) Append(ctx context.Context, id string, turns ...models.Turn) error {
	if err := validateID(id); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // Rollback after commit returns ErrTxDone which is expected
	}()

	now := time.Now()
	if err := s.ensureSession(ctx, tx, id, now); err != nil {
		return err
	}

	var last int64
	if err := tx.QueryRowContext(ctx, s.rebind(`SELECT COALESCE(MAX(seq), 0) FROM turns WHERE session_id = ?`), id).Scan(&last); err != nil {
		return fmt.Errorf("failed to read last sequence: %w", err)
	}

	insert := s.rebind(`INSERT INTO turns (session_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?)`)
	for i, t := range turns {
		created := t.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err := tx.ExecContext(ctx, insert, id, last+int64(i)+1, string(t.Role), t.Content, created.UnixNano()); err != nil {
			return fmt.Errorf("failed to append turn: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE sessions SET updated_at = ? WHERE id = ?`), now.UnixNano(), id); err != nil {
		return fmt.Errorf("failed to update session timestamp: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

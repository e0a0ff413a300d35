package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"TenderSync/internal/ports"
)

const (
	// DriverSQLite is the default, file-backed store.
	DriverSQLite = "sqlite3"
	// DriverPostgres is used when state must outlive ephemeral runners without snapshots.
	DriverPostgres = "postgres"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Store persists announcements, processing records, the run log and saved searches.
// Every write is a single statement, so a crash never leaves a half-written record.
type Store struct {
	db     *sql.DB
	driver string
	sb     sq.StatementBuilderType
	now    func() time.Time
}

var (
	_ ports.AnnouncementRepository = (*Store)(nil)
	_ ports.ProcessingRepository   = (*Store)(nil)
	_ ports.RunLogRepository       = (*Store)(nil)
	_ ports.SearchRepository       = (*Store)(nil)
)

// Open connects to the database, applies pragmas (SQLite) and the embedded schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	driver = normalizeDriver(driver)
	if driver == "" {
		return nil, fmt.Errorf("unsupported database driver")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite supports a single writer.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	s := New(db, driver)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened sql.DB.
func New(db *sql.DB, driver string) *Store {
	driver = normalizeDriver(driver)
	var placeholder sq.PlaceholderFormat = sq.Question
	if driver == DriverPostgres {
		placeholder = sq.Dollar
	}
	return &Store{
		db:     db,
		driver: driver,
		sb:     sq.StatementBuilder.PlaceholderFormat(placeholder),
		now:    time.Now,
	}
}

// Migrate applies the schema for the store's dialect. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	raw, err := schemaFS.ReadFile("schema/" + s.driver + ".sql")
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	for _, stmt := range strings.Split(string(raw), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return s.upgradeColumns(ctx)
}

// addedColumns lists columns introduced after the first schema; CREATE TABLE IF NOT
// EXISTS does not add them to existing databases.
var addedColumns = []struct {
	table, column, definition string
}{
	{"announcements", "announcement", "TEXT NOT NULL DEFAULT ''"},
}

func (s *Store) upgradeColumns(ctx context.Context) error {
	for _, c := range addedColumns {
		var b sq.SelectBuilder
		if s.driver == DriverSQLite {
			b = s.sb.Select("COUNT(*)").From("pragma_table_info('" + c.table + "')").Where(sq.Eq{"name": c.column})
		} else {
			b = s.sb.Select("COUNT(*)").From("information_schema.columns").
				Where(sq.Eq{"table_name": c.table, "column_name": c.column})
		}
		query, args, err := b.ToSql()
		if err != nil {
			return fmt.Errorf("build query: %w", err)
		}

		var n int
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
			return fmt.Errorf("inspect %s.%s: %w", c.table, c.column, err)
		}
		if n > 0 {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.table, c.column, c.definition)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}

// DB exposes the connection for collaborators that need a dedicated session (advisory locks).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver returns the dialect in use.
func (s *Store) Driver() string {
	return s.driver
}

// Checkpoint folds the SQLite WAL into the main file so it can be copied.
// It is a no-op for Postgres.
func (s *Store) Checkpoint(ctx context.Context) error {
	if s.driver != DriverSQLite {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func normalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite
	case "postgres", "postgresql", "pg":
		return DriverPostgres
	default:
		return ""
	}
}

func (s *Store) exec(ctx context.Context, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

const dateLayout = "2006-01-02"

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func parseDate(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

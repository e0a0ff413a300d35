package lock

import (
	"context"
	"database/sql"
	"fmt"
)

// Postgres uses a session-scoped advisory lock. It is held by a dedicated
// connection and released by the server if that connection dies.
type Postgres struct {
	db  *sql.DB
	key int64
}

// NewPostgres creates an advisory lock for name.
func NewPostgres(db *sql.DB, name string) *Postgres {
	return &Postgres{db: db, key: KeyFor(name)}
}

// TryLock attempts pg_try_advisory_lock without blocking.
func (p *Postgres) TryLock(ctx context.Context) (func(context.Context) error, bool, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("advisory lock connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", p.key).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("advisory lock %d: %w", p.key, err)
	}
	if !acquired {
		_ = conn.Close()
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		defer conn.Close()
		if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", p.key); err != nil {
			return fmt.Errorf("advisory unlock %d: %w", p.key, err)
		}
		return nil
	}
	return release, true, nil
}

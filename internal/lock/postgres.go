package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLocker uses session-level advisory locks. A lease pins one pooled
// connection until it is released; the ttl is not used because the server
// drops the lock when the session ends.
type PostgresLocker struct {
	pool *pgxpool.Pool
}

func NewPostgresLocker(pool *pgxpool.Pool) *PostgresLocker {
	return &PostgresLocker{pool: pool}
}

// DialPostgres opens a pool for dsn and checks the connection.
func DialPostgres(ctx context.Context, dsn string) (*PostgresLocker, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return NewPostgresLocker(pool), nil
}

func (l *PostgresLocker) Close() {
	l.pool.Close()
}

func (l *PostgresLocker) Acquire(ctx context.Context, name string, _ time.Duration) (Lease, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", name, err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, name).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquiring lock %s: %w", name, err)
	}
	if !ok {
		conn.Release()
		return nil, ErrNotAcquired
	}

	return &postgresLease{conn: conn, name: name}, nil
}

type postgresLease struct {
	conn *pgxpool.Conn
	name string
}

func (l *postgresLease) Release(ctx context.Context) error {
	defer l.conn.Release()

	if _, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, l.name); err != nil {
		return fmt.Errorf("releasing lock %s: %w", l.name, err)
	}
	return nil
}

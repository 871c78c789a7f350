package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/watzon/cadence/internal/database"
)

// SQLiteLocker keeps leases in the _cadence_locks table. An expired lease
// can be taken over by any caller.
type SQLiteLocker struct {
	db  database.Querier
	now func() time.Time
}

func NewSQLiteLocker(db database.Querier) *SQLiteLocker {
	return &SQLiteLocker{db: db, now: time.Now}
}

func (l *SQLiteLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	owner := uuid.NewString()
	now := l.now().UTC()

	query := `
		INSERT INTO _cadence_locks (name, owner, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE
		SET owner = excluded.owner, acquired_at = excluded.acquired_at, expires_at = excluded.expires_at
		WHERE _cadence_locks.expires_at <= excluded.acquired_at
	`

	result, err := l.db.ExecContext(ctx, query,
		name,
		owner,
		database.FormatTime(now),
		database.FormatTime(now.Add(ttl)),
	)
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", name, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", name, err)
	}
	if n == 0 {
		return nil, ErrNotAcquired
	}

	return &sqliteLease{db: l.db, name: name, owner: owner}, nil
}

type sqliteLease struct {
	db    database.Querier
	name  string
	owner string
}

func (l *sqliteLease) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM _cadence_locks WHERE name = ? AND owner = ?`, l.name, l.owner)
	if err != nil {
		return fmt.Errorf("releasing lock %s: %w", l.name, err)
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLock coordinates singleton work across scheduler replicas via a
// Postgres session-level advisory lock.
type AdvisoryLock struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewAdvisoryLock(db *pgxpool.Pool, logger *slog.Logger) *AdvisoryLock {
	return &AdvisoryLock{db: db, logger: logger.With("component", "advisory_lock_pg")}
}

// TryAcquire attempts the lock without blocking. On success it returns a
// release func that must be called on the same session; the connection is
// pinned until then.
func (l *AdvisoryLock) TryAcquire(ctx context.Context, key int64) (release func(), acquired bool, err error) {
	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquiring connection for advisory lock: %w", err)
	}

	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("acquiring advisory lock %d: %w", key, err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	release = func() {
		// Unlock on a background context so shutdown cancellation cannot
		// leave the lock held for the life of the session.
		if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, key); err != nil {
			l.logger.Error("Error releasing advisory lock", "error", err, "key", key)
		}
		conn.Release()
	}
	return release, true, nil
}

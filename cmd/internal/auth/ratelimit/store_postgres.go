package ratelimit

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (valine.failed_attempts).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed counter store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Get loads a counter. A missing row is a zero counter, not an error.
// The read is retried once on a transient connection failure; the writes
// below never are.
func (s *PostgresStore) Get(ctx context.Context, scope, key string) (Counter, error) {
	c, err := s.get(ctx, scope, key)
	if err == nil || !transientReadError(ctx, err) {
		return c, err
	}
	select {
	case <-ctx.Done():
		return c, err
	case <-time.After(50 * time.Millisecond):
	}
	return s.get(ctx, scope, key)
}

func (s *PostgresStore) get(ctx context.Context, scope, key string) (Counter, error) {
	var (
		c           Counter
		lockedUntil *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT scope, key, count, window_start, locked_until
		FROM valine.failed_attempts
		WHERE scope = $1 AND key = $2
	`, scope, key).Scan(&c.Scope, &c.Key, &c.Count, &c.WindowStart, &lockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return Counter{}, nil
	}
	if err != nil {
		return Counter{}, err
	}
	if lockedUntil != nil {
		c.LockedUntil = *lockedUntil
	}
	return c, nil
}

func transientReadError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var ne net.Error
	return pgconn.SafeToRetry(err) || errors.As(err, &ne)
}

// RecordFailure upserts the counter in a single statement so concurrent
// failures serialize inside the database. A lapsed window restarts at count
// one; reaching the policy threshold stamps locked_until.
func (s *PostgresStore) RecordFailure(ctx context.Context, policy Policy, key string, now time.Time) (Counter, error) {
	windowFloor := now.Add(-policy.Window)
	lockedUntil := now.Add(policy.Lockout)

	var (
		c      Counter
		locked *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO valine.failed_attempts AS f (scope, key, count, window_start, locked_until)
		VALUES ($1, $2, 1, $3, CASE WHEN 1 >= $5::int THEN $6::timestamptz ELSE NULL END)
		ON CONFLICT (scope, key) DO UPDATE SET
			count = CASE WHEN f.window_start <= $4 THEN 1 ELSE f.count + 1 END,
			window_start = CASE WHEN f.window_start <= $4 THEN $3 ELSE f.window_start END,
			locked_until = CASE
				WHEN (CASE WHEN f.window_start <= $4 THEN 1 ELSE f.count + 1 END) >= $5::int
				THEN $6::timestamptz
				ELSE CASE WHEN f.window_start <= $4 THEN NULL ELSE f.locked_until END
			END
		RETURNING scope, key, count, window_start, locked_until
	`, policy.Scope, key, now, windowFloor, policy.Max, lockedUntil).
		Scan(&c.Scope, &c.Key, &c.Count, &c.WindowStart, &locked)
	if err != nil {
		return Counter{}, err
	}
	if locked != nil {
		c.LockedUntil = *locked
	}
	return c, nil
}

// Reset deletes the counter for (scope, key).
func (s *PostgresStore) Reset(ctx context.Context, scope, key string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM valine.failed_attempts
		WHERE scope = $1 AND key = $2
	`, scope, key)
	return err
}

// PurgeStale deletes counters whose window and lockout both ended before
// cutoff.
func (s *PostgresStore) PurgeStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM valine.failed_attempts
		WHERE window_start < $1
		  AND (locked_until IS NULL OR locked_until < $1)
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

package session

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (valine.refresh_tokens).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed refresh-token store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const recordColumns = `
	id, user_id, root_id, token_hash,
	rotated_from_id, issued_at, expires_at,
	revoked_at, revocation_reason, ip, user_agent`

// Create inserts a new refresh-token row. An empty RootID means the row
// starts a new chain and becomes its own root.
func (s *PostgresStore) Create(ctx context.Context, in CreateRecordInput) error {
	return createTx(ctx, s.pool, in)
}

// GetByID loads a refresh-token row by ID.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (Record, error) {
	return s.getRecord(ctx, `
		SELECT `+recordColumns+`
		FROM valine.refresh_tokens
		WHERE id = $1
	`, id)
}

// GetByTokenHash loads a refresh-token row by its token hash.
func (s *PostgresStore) GetByTokenHash(ctx context.Context, hash string) (Record, error) {
	return s.getRecord(ctx, `
		SELECT `+recordColumns+`
		FROM valine.refresh_tokens
		WHERE token_hash = $1
	`, hash)
}

// getRecord runs a single-row lookup, retrying once on a transient
// connection failure. Reads are idempotent; writes in this store are
// never retried.
func (s *PostgresStore) getRecord(ctx context.Context, query, arg string) (Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, arg))
	if err == nil || !transientReadError(ctx, err) {
		return rec, err
	}
	select {
	case <-ctx.Done():
		return rec, err
	case <-time.After(50 * time.Millisecond):
	}
	return scanRecord(s.pool.QueryRow(ctx, query, arg))
}

func transientReadError(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrTokenInvalid) {
		return false
	}
	var ne net.Error
	return pgconn.SafeToRetry(err) || errors.As(err, &ne)
}

// Revoke revokes a single row (idempotent).
func (s *PostgresStore) Revoke(ctx context.Context, id, reason string, now time.Time) error {
	return revokeTx(ctx, s.pool, id, reason, now)
}

// RevokeChain revokes every row in a rotation chain (idempotent).
func (s *PostgresStore) RevokeChain(ctx context.Context, rootID, reason string, now time.Time) error {
	return revokeChainTx(ctx, s.pool, rootID, reason, now)
}

// Rotate locks the row matching tokenHash (SELECT ... FOR UPDATE) inside a
// transaction and runs fn against it. Two concurrent presentations of the
// same refresh token serialize on the row lock, so the loser observes the
// winner's committed rotation.
func (s *PostgresStore) Rotate(ctx context.Context, tokenHash string, fn func(ctx context.Context, tx RotateTx, current Record) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM valine.refresh_tokens
		WHERE token_hash = $1
		FOR UPDATE
	`, tokenHash)
	current, err := scanRecord(row)
	if err != nil {
		return err
	}

	if err := fn(ctx, &pgxRotateTx{tx: tx}, current); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// PurgeExpired deletes rows whose expiry (or revocation) predates cutoff.
func (s *PostgresStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM valine.refresh_tokens
		WHERE expires_at < $1
		   OR (revoked_at IS NOT NULL AND revoked_at < $1)
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec         Record
		rotatedFrom *string
		revokedAt   *time.Time
		reason      *string
		ip          *string
		userAgent   *string
	)

	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.RootID,
		&rec.TokenHash,
		&rotatedFrom,
		&rec.IssuedAt,
		&rec.ExpiresAt,
		&revokedAt,
		&reason,
		&ip,
		&userAgent,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrTokenInvalid
	}
	if err != nil {
		return Record{}, err
	}

	if rotatedFrom != nil {
		rec.RotatedFromID = *rotatedFrom
	}
	if revokedAt != nil {
		rec.RevokedAt = *revokedAt
	}
	if reason != nil {
		rec.Reason = *reason
	}
	if ip != nil {
		rec.IP = *ip
	}
	if userAgent != nil {
		rec.UserAgent = *userAgent
	}
	return rec, nil
}

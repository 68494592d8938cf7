package session

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// execer is satisfied by both *pgxpool.Pool and pgx.Tx so the write helpers
// run identically inside and outside a rotation transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// pgxRotateTx adapts a pgx transaction to the RotateTx surface handed to
// rotation callbacks.
type pgxRotateTx struct {
	tx pgx.Tx
}

func (t *pgxRotateTx) Create(ctx context.Context, in CreateRecordInput) error {
	return createTx(ctx, t.tx, in)
}

func (t *pgxRotateTx) Revoke(ctx context.Context, id, reason string, now time.Time) error {
	return revokeTx(ctx, t.tx, id, reason, now)
}

func (t *pgxRotateTx) RevokeChain(ctx context.Context, rootID, reason string, now time.Time) error {
	return revokeChainTx(ctx, t.tx, rootID, reason, now)
}

func createTx(ctx context.Context, db execer, in CreateRecordInput) error {
	rootID := in.RootID
	if rootID == "" {
		rootID = in.ID
	}

	_, err := db.Exec(ctx, `
		INSERT INTO valine.refresh_tokens (
			id, user_id, root_id, token_hash,
			rotated_from_id, issued_at, expires_at,
			revoked_at, revocation_reason, ip, user_agent
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			NULL, NULL, $8, $9
		)
	`, in.ID, in.UserID, rootID, in.TokenHash,
		nullIfEmpty(in.RotatedFromID), in.IssuedAt, in.ExpiresAt,
		nullIfEmpty(in.IP), nullIfEmpty(in.UserAgent))
	return err
}

func revokeTx(ctx context.Context, db execer, id, reason string, now time.Time) error {
	_, err := db.Exec(ctx, `
		UPDATE valine.refresh_tokens
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE id = $1
	`, id, now, reason)
	return err
}

func revokeChainTx(ctx context.Context, db execer, rootID, reason string, now time.Time) error {
	_, err := db.Exec(ctx, `
		UPDATE valine.refresh_tokens
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE root_id = $1
	`, rootID, now, reason)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

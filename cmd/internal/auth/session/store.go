package session

import (
	"context"
	"time"
)

// Revocation reasons persisted alongside a revoked refresh record.
const (
	ReasonRotated  = "rotated"
	ReasonLogout   = "logout"
	ReasonReuse    = "reuse_detected"
	ReasonSecurity = "security"
)

// Record is one stored refresh-token generation. Only the hash of the
// refresh token is persisted; the plaintext never touches the database.
type Record struct {
	ID            string
	UserID        string
	RootID        string
	TokenHash     string
	RotatedFromID string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	RevokedAt     time.Time
	Reason        string
	IP            string
	UserAgent     string
}

// Revoked reports whether the record has been revoked.
func (r Record) Revoked() bool { return !r.RevokedAt.IsZero() }

// Expired reports whether the record's lifetime has elapsed at now.
func (r Record) Expired(now time.Time) bool { return !now.Before(r.ExpiresAt) }

// CreateRecordInput carries the fields for a new refresh record. RootID and
// RotatedFromID are empty for the first generation of a chain.
type CreateRecordInput struct {
	ID            string
	UserID        string
	RootID        string
	TokenHash     string
	RotatedFromID string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	IP            string
	UserAgent     string
}

// Store persists refresh-token records. Rotate runs its callback inside a
// transaction holding a row lock on the presented record so two concurrent
// presentations of the same token serialize.
type Store interface {
	Create(ctx context.Context, in CreateRecordInput) error
	GetByID(ctx context.Context, id string) (Record, error)
	GetByTokenHash(ctx context.Context, hash string) (Record, error)
	Revoke(ctx context.Context, id, reason string, now time.Time) error
	RevokeChain(ctx context.Context, rootID, reason string, now time.Time) error
	Rotate(ctx context.Context, tokenHash string, fn func(ctx context.Context, tx RotateTx, current Record) error) error
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// RotateTx is the slice of Store available inside a Rotate transaction.
type RotateTx interface {
	Create(ctx context.Context, in CreateRecordInput) error
	Revoke(ctx context.Context, id, reason string, now time.Time) error
	RevokeChain(ctx context.Context, rootID, reason string, now time.Time) error
}

package session

import (
	"context"
	"strings"
	"time"

	"github.com/gcolon75/Project-Valine-sub005/cmd/identity/ids"
	"github.com/gcolon75/Project-Valine-sub005/cmd/security/token"
)

// Service implements the high-level session operations for Valine.
//
// It issues token pairs, verifies access tokens statelessly, revokes rotation
// chains, and performs refresh rotation with reuse detection under a strict
// transactional model.
type Service struct {
	cfg    Config
	tokens TokenManager
	store  Store
}

// Issued is the result of issuing or rotating a session.
type Issued struct {
	RecordID     string
	UserID       string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// DeviceContext carries request metadata persisted with each refresh record.
type DeviceContext struct {
	IP        string
	UserAgent string
}

// NewService constructs a Service with the provided configuration, store, and
// token manager.
func NewService(cfg Config, store Store, tokens TokenManager) *Service {
	return &Service{cfg: cfg, store: store, tokens: tokens}
}

// Issue creates a new rotation chain for userID and returns fresh tokens.
//
// The refresh token is a signed JWT, but only its hash is persisted. The
// first record of a chain is its own root.
func (s *Service) Issue(ctx context.Context, now time.Time, userID string, dev DeviceContext) (Issued, error) {
	recordID, err := ids.NewULID(now)
	if err != nil {
		return Issued{}, err
	}

	pair, err := s.tokens.Mint(userID, recordID, now)
	if err != nil {
		return Issued{}, err
	}

	err = s.store.Create(ctx, CreateRecordInput{
		ID:        recordID,
		UserID:    userID,
		TokenHash: token.HashRefreshTokenHex(pair.RefreshToken),
		IssuedAt:  now,
		ExpiresAt: pair.RefreshExp,
		IP:        dev.IP,
		UserAgent: dev.UserAgent,
	})
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		RecordID:     recordID,
		UserID:       userID,
		AccessToken:  pair.AccessToken,
		AccessExp:    pair.AccessExp,
		RefreshToken: pair.RefreshToken,
		RefreshExp:   pair.RefreshExp,
	}, nil
}

// VerifyAccess verifies an access token without touching the database.
// Revocation takes effect at the access token's natural expiry.
func (s *Service) VerifyAccess(accessToken string, now time.Time) (Claims, error) {
	return s.tokens.VerifyAccess(accessToken, now)
}

// Rotate performs refresh rotation with reuse detection.
//
// Security model:
//   - Verify the refresh token's signature and expiry before any lookup.
//   - Lock the matching row by token hash (SELECT ... FOR UPDATE).
//   - If the row was already rotated, the token is being replayed: revoke the
//     entire chain, commit that revocation, and return ErrReuseDetected.
//   - If the row was revoked for any other reason, return ErrSessionRevoked.
//   - Otherwise create the successor record, revoke the old one, and link
//     them through rotated_from_id within the same transaction.
func (s *Service) Rotate(ctx context.Context, now time.Time, refreshPlain string, dev DeviceContext) (Issued, error) {
	refreshPlain = strings.TrimSpace(refreshPlain)
	if refreshPlain == "" || len(refreshPlain) > 4096 {
		return Issued{}, ErrTokenInvalid
	}

	claims, err := s.tokens.VerifyRefresh(refreshPlain, now)
	if err != nil {
		return Issued{}, err
	}

	var (
		issued Issued
		reuse  bool
	)

	err = s.store.Rotate(ctx, token.HashRefreshTokenHex(refreshPlain), func(ctx context.Context, tx RotateTx, current Record) error {
		// The hash lookup already bound the token to this row; the claims
		// must agree or the row belongs to a different token.
		if current.ID != claims.RecordID || current.UserID != claims.UserID {
			return ErrTokenInvalid
		}
		if current.Expired(now) {
			return ErrTokenExpired
		}

		if current.Revoked() {
			if current.Reason != ReasonRotated {
				return ErrSessionRevoked
			}
			// Replay of a rotated token. The chain revocation must commit
			// even though the rotation fails, so flag it instead of
			// returning an error here.
			if err := tx.RevokeChain(ctx, current.RootID, ReasonReuse, now); err != nil {
				return err
			}
			reuse = true
			return nil
		}

		newID, err := ids.NewULID(now)
		if err != nil {
			return err
		}
		pair, err := s.tokens.Mint(current.UserID, newID, now)
		if err != nil {
			return err
		}

		err = tx.Create(ctx, CreateRecordInput{
			ID:            newID,
			UserID:        current.UserID,
			RootID:        current.RootID,
			TokenHash:     token.HashRefreshTokenHex(pair.RefreshToken),
			RotatedFromID: current.ID,
			IssuedAt:      now,
			ExpiresAt:     pair.RefreshExp,
			IP:            dev.IP,
			UserAgent:     dev.UserAgent,
		})
		if err != nil {
			return err
		}

		if err := tx.Revoke(ctx, current.ID, ReasonRotated, now); err != nil {
			return err
		}

		issued = Issued{
			RecordID:     newID,
			UserID:       current.UserID,
			AccessToken:  pair.AccessToken,
			AccessExp:    pair.AccessExp,
			RefreshToken: pair.RefreshToken,
			RefreshExp:   pair.RefreshExp,
		}
		return nil
	})
	if err != nil {
		return Issued{}, err
	}
	if reuse {
		return Issued{}, ErrReuseDetected
	}

	return issued, nil
}

// Logout revokes the entire chain that the presented refresh token belongs
// to. An expired token still identifies its chain, so expiry is not an error
// here.
func (s *Service) Logout(ctx context.Context, now time.Time, refreshPlain string) error {
	refreshPlain = strings.TrimSpace(refreshPlain)
	if refreshPlain == "" || len(refreshPlain) > 4096 {
		return ErrTokenInvalid
	}

	rec, err := s.store.GetByTokenHash(ctx, token.HashRefreshTokenHex(refreshPlain))
	if err != nil {
		return err
	}

	return s.store.RevokeChain(ctx, rec.RootID, ReasonLogout, now)
}

// RevokeChainByRecord revokes the chain containing recordID. Used for
// administrative and security-incident revocation.
func (s *Service) RevokeChainByRecord(ctx context.Context, now time.Time, recordID, reason string) error {
	rec, err := s.store.GetByID(ctx, recordID)
	if err != nil {
		return err
	}
	return s.store.RevokeChain(ctx, rec.RootID, reason, now)
}

// PurgeExpired removes refresh records whose usefulness ended before cutoff.
func (s *Service) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.store.PurgeExpired(ctx, cutoff)
}

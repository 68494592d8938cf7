package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type discriminators carried in the "typ" claim so an access token
// can never be presented where a refresh token is expected, or vice versa.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims is the minimal identity envelope carried by both token types.
type Claims struct {
	UserID    string
	RecordID  string
	TokenType string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// Pair is one freshly minted access + refresh token set.
type Pair struct {
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// TokenManager mints and verifies signed access/refresh tokens.
// Verification is stateless; record lookups are the Service's concern.
type TokenManager interface {
	Mint(userID, recordID string, now time.Time) (Pair, error)
	VerifyAccess(token string, now time.Time) (Claims, error)
	VerifyRefresh(token string, now time.Time) (Claims, error)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	RecordID  string `json:"sid"`
	TokenType string `json:"typ"`
}

type hs256Manager struct {
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	clockSkew  time.Duration

	accessSecret  []byte
	refreshSecret []byte
}

// NewHS256Manager builds a TokenManager signing HS256 JWTs with separate
// per-type secrets.
func NewHS256Manager(cfg Config) (TokenManager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &hs256Manager{
		issuer:        cfg.Issuer,
		accessTTL:     cfg.AccessTokenTTL,
		refreshTTL:    cfg.RefreshTokenTTL,
		clockSkew:     cfg.ClockSkew,
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
	}, nil
}

func (m *hs256Manager) Mint(userID, recordID string, now time.Time) (Pair, error) {
	accessExp := now.Add(m.accessTTL)
	refreshExp := now.Add(m.refreshTTL)

	access, err := m.sign(userID, recordID, TokenTypeAccess, now, accessExp, m.accessSecret)
	if err != nil {
		return Pair{}, err
	}

	refresh, err := m.sign(userID, recordID, TokenTypeRefresh, now, refreshExp, m.refreshSecret)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		AccessToken:  access,
		AccessExp:    accessExp,
		RefreshToken: refresh,
		RefreshExp:   refreshExp,
	}, nil
}

func (m *hs256Manager) VerifyAccess(token string, now time.Time) (Claims, error) {
	return m.verify(token, TokenTypeAccess, m.accessSecret, now)
}

func (m *hs256Manager) VerifyRefresh(token string, now time.Time) (Claims, error) {
	return m.verify(token, TokenTypeRefresh, m.refreshSecret, now)
}

func (m *hs256Manager) sign(userID, recordID, typ string, now, exp time.Time, secret []byte) (string, error) {
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		RecordID:  recordID,
		TokenType: typ,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (m *hs256Manager) verify(token, wantType string, secret []byte, now time.Time) (Claims, error) {
	parsed := &jwtClaims{}

	_, err := jwt.ParseWithClaims(token, parsed,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrTokenInvalid
			}
			return secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(m.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenInvalid
	}

	// The type discriminator is enforced after signature checks so a token
	// signed with the wrong secret never reaches this branch.
	if parsed.TokenType != wantType {
		return Claims{}, ErrTokenInvalid
	}
	if parsed.Subject == "" || parsed.RecordID == "" {
		return Claims{}, ErrTokenInvalid
	}

	out := Claims{
		UserID:    parsed.Subject,
		RecordID:  parsed.RecordID,
		TokenType: parsed.TokenType,
		Issuer:    parsed.Issuer,
	}
	if parsed.IssuedAt != nil {
		out.IssuedAt = parsed.IssuedAt.Time
	}
	if parsed.ExpiresAt != nil {
		out.ExpiresAt = parsed.ExpiresAt.Time
	}
	return out, nil
}

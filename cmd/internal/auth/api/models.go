package authapi

import (
	"time"

	"github.com/gcolon75/Project-Valine-sub005/cmd/identity"
	"github.com/gcolon75/Project-Valine-sub005/cmd/internal/auth/session"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	TOTPCode   string `json:"totp_code"`
	BackupCode string `json:"backup_code"`
}

type userResponse struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	CreatedAt        time.Time `json:"created_at"`
}

// sessionResponse reports token lifetimes. The tokens themselves travel in
// cookies; only the access token is duplicated in the body for non-browser
// clients.
type sessionResponse struct {
	AccessToken      string    `json:"access_token,omitempty"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type authResponse struct {
	User    userResponse    `json:"user"`
	Session sessionResponse `json:"session"`
}

type refreshResponse struct {
	Session sessionResponse `json:"session"`
}

// healthResponse flattens the allowlist snapshot into the field names the
// deployment tooling scrapes.
type healthResponse struct {
	Status                 string `json:"status"`
	AllowlistActive        bool   `json:"allowlistActive"`
	AllowlistCount         int    `json:"allowlistCount"`
	AllowlistMisconfigured bool   `json:"allowlistMisconfigured"`
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:               u.ID,
		Email:            u.Email,
		TwoFactorEnabled: u.TwoFactorEnabled,
		CreatedAt:        u.CreatedAt,
	}
}

func toSessionResponse(issued session.Issued) sessionResponse {
	return sessionResponse{
		AccessToken:      issued.AccessToken,
		AccessExpiresAt:  issued.AccessExp,
		RefreshExpiresAt: issued.RefreshExp,
	}
}

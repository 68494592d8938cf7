package identity

import (
	"context"
	"time"
)

// Status is the account state gate consulted at login.
type Status string

const (
	// StatusActive is a normal, sign-in-capable account.
	StatusActive Status = "active"
	// StatusLocked is an administratively locked account.
	StatusLocked Status = "locked"
)

// User is Valine's canonical security principal, read-mostly from the
// auth core's point of view. Only the two-factor and lock fields are
// ever updated here.
type User struct {
	ID           string
	Email        string
	EmailNorm    string
	PasswordHash string

	// TwoFactorSecret is the TOTP secret encrypted at rest (nil until enrolled).
	TwoFactorSecret  []byte
	TwoFactorEnabled bool

	Status Status

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateUserInput carries the fields needed to create a user record.
// PasswordHash must already be an encoded Argon2id hash; this package
// never sees plaintext credentials.
type CreateUserInput struct {
	Email        string
	PasswordHash string
	Now          time.Time
}

// UserUpdate is a sparse field update; nil pointers are left untouched.
type UserUpdate struct {
	TwoFactorSecret  *[]byte
	TwoFactorEnabled *bool
	Status           *Status
}

// Store is the narrow user-record surface consumed by the auth core.
type Store interface {
	// FindUserByEmail looks a user up by normalized email.
	// Returns ErrNotFound when no such user exists.
	FindUserByEmail(ctx context.Context, email string) (User, error)

	// GetUserByID loads a user by id. Returns ErrNotFound when missing.
	GetUserByID(ctx context.Context, id string) (User, error)

	// CreateUser inserts a new user row.
	// Returns ConflictError{Field: "email"} when the email is taken.
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	// UpdateUser applies a sparse update to the 2FA/lock fields.
	UpdateUser(ctx context.Context, id string, fields UserUpdate) error
}

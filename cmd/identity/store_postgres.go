package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// Design notes:
//   - The pgx pool is owned by the caller; this store must NOT close it.
//   - Schema identifiers are validated to avoid SQL injection via identifiers.
//   - Unique violations are mapped to ConflictError so the API layer can
//     return 409 without inspecting driver errors.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the user store (default "valine").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore with secure defaults.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "valine",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) users() string {
	return s.schema + ".users"
}

const userColumns = `
	id, email, email_norm, password_hash,
	two_factor_secret, two_factor_enabled, status,
	created_at, updated_at
`

// FindUserByEmail looks a user up by normalized email.
func (s *PostgresStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.FindUserByEmail"

	norm := NormalizeEmail(email)
	if norm == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty email"}
	}

	return s.getUser(ctx, op,
		`SELECT `+userColumns+` FROM `+s.users()+` WHERE email_norm = $1`, norm)
}

// GetUserByID loads a user by id.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	if strings.TrimSpace(id) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty id"}
	}

	return s.getUser(ctx, op,
		`SELECT `+userColumns+` FROM `+s.users()+` WHERE id = $1`, id)
}

// getUser runs a single-row lookup, retrying once on a transient
// connection failure. Lookups are idempotent; the writes below are never
// retried, since a retry after an unacknowledged write could apply twice.
func (s *PostgresStore) getUser(ctx context.Context, op, query string, arg any) (User, error) {
	u, err := scanUser(op, s.pool.QueryRow(ctx, query, arg))
	if err == nil || !transientReadError(ctx, err) {
		return u, err
	}
	select {
	case <-ctx.Done():
		return u, err
	case <-time.After(50 * time.Millisecond):
	}
	return scanUser(op, s.pool.QueryRow(ctx, query, arg))
}

func transientReadError(ctx context.Context, err error) bool {
	if ctx.Err() != nil || IsNotFound(err) {
		return false
	}
	var ne net.Error
	return pgconn.SafeToRetry(err) || errors.As(err, &ne)
}

// CreateUser inserts a new user row.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	email := strings.TrimSpace(in.Email)
	if email == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty email"}
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty password hash"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:           id,
		Email:        email,
		EmailNorm:    NormalizeEmail(email),
		PasswordHash: in.PasswordHash,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+s.users()+` (
			id, email, email_norm, password_hash,
			two_factor_secret, two_factor_enabled, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, NULL, false, $5, $6, $6)
	`, u.ID, u.Email, u.EmailNorm, u.PasswordHash, string(u.Status), now)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

// UpdateUser applies a sparse update to the 2FA/lock fields.
func (s *PostgresStore) UpdateUser(ctx context.Context, id string, fields UserUpdate) error {
	const op = "identity.UpdateUser"

	if strings.TrimSpace(id) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty id"}
	}

	set := make([]string, 0, 4)
	args := make([]any, 0, 5)
	args = append(args, id)

	if fields.TwoFactorSecret != nil {
		args = append(args, *fields.TwoFactorSecret)
		set = append(set, fmt.Sprintf("two_factor_secret = $%d", len(args)))
	}
	if fields.TwoFactorEnabled != nil {
		args = append(args, *fields.TwoFactorEnabled)
		set = append(set, fmt.Sprintf("two_factor_enabled = $%d", len(args)))
	}
	if fields.Status != nil {
		args = append(args, string(*fields.Status))
		set = append(set, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(set) == 0 {
		return nil
	}
	set = append(set, "updated_at = now()")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.users()+` SET `+strings.Join(set, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return OpError{Op: op, Kind: ErrNotFound}
	}
	return nil
}

func scanUser(op string, row pgx.Row) (User, error) {
	var u User
	var status string

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.EmailNorm,
		&u.PasswordHash,
		&u.TwoFactorSecret,
		&u.TwoFactorEnabled,
		&status,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, OpError{Op: op, Kind: ErrNotFound}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	u.Status = Status(status)
	return u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

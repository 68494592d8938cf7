package twofactor

import (
	"context"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/gcolon75/Project-Valine-sub005/cmd/identity"
	"github.com/gcolon75/Project-Valine-sub005/cmd/internal/auth/audit"
	"github.com/gcolon75/Project-Valine-sub005/cmd/security/token"
)

// validateOpts pins the TOTP parameters: 6 digits, 30-second steps, and one
// step of skew in either direction. Wider skew windows make shoulder-surfed
// codes useful for too long.
var validateOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// Service manages TOTP enrollment, activation, and verification.
type Service struct {
	users  identity.Store
	codes  BackupCodeStore
	cipher *secretCipher
	issuer string
	audit  audit.Recorder
}

// NewService builds a Service. key is the 32-byte at-rest encryption key;
// issuer labels enrollments in authenticator apps.
func NewService(users identity.Store, codes BackupCodeStore, key []byte, issuer string) (*Service, error) {
	cipher, err := newSecretCipher(key)
	if err != nil {
		return nil, err
	}
	if issuer == "" {
		issuer = "Valine"
	}
	return &Service{
		users:  users,
		codes:  codes,
		cipher: cipher,
		issuer: issuer,
		audit:  audit.NopRecorder{},
	}, nil
}

// WithAudit routes enrollment events to rec. Nil keeps the no-op recorder.
func (s *Service) WithAudit(rec audit.Recorder) *Service {
	if rec != nil {
		s.audit = rec
	}
	return s
}

// Enrollment is returned once at enroll time. The secret and backup codes
// are never recoverable afterwards.
type Enrollment struct {
	Secret      string
	URL         string
	BackupCodes []string
}

// Enroll provisions a new TOTP secret and backup codes for the user. The
// second factor stays inactive until Activate proves the user's
// authenticator produces matching codes.
func (s *Service) Enroll(ctx context.Context, userID string, now time.Time) (Enrollment, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return Enrollment{}, err
	}
	if user.TwoFactorEnabled {
		return Enrollment{}, ErrAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: user.Email,
	})
	if err != nil {
		return Enrollment{}, err
	}

	sealed, err := s.cipher.seal([]byte(key.Secret()))
	if err != nil {
		return Enrollment{}, err
	}

	codes, hashes, err := generateBackupCodes()
	if err != nil {
		return Enrollment{}, err
	}

	if err := s.users.UpdateUser(ctx, userID, identity.UserUpdate{
		TwoFactorSecret: &sealed,
	}); err != nil {
		return Enrollment{}, err
	}
	if err := s.codes.Replace(ctx, userID, hashes, now); err != nil {
		return Enrollment{}, err
	}

	return Enrollment{Secret: key.Secret(), URL: key.URL(), BackupCodes: codes}, nil
}

// Activate turns the second factor on after the user proves possession of
// the enrolled secret.
func (s *Service) Activate(ctx context.Context, userID, code string, now time.Time) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.TwoFactorEnabled {
		return ErrAlreadyEnabled
	}
	if err := s.verifyTOTP(user.TwoFactorSecret, code, now); err != nil {
		return err
	}

	enabled := true
	if err := s.users.UpdateUser(ctx, userID, identity.UserUpdate{
		TwoFactorEnabled: &enabled,
	}); err != nil {
		return err
	}

	s.audit.Record(ctx, now, audit.Event{Action: audit.ActionTwoFactorEnroll, UserID: userID})
	return nil
}

// Verify checks a TOTP code for a user with an active second factor.
func (s *Service) Verify(ctx context.Context, user identity.User, code string, now time.Time) error {
	if !user.TwoFactorEnabled {
		return ErrNotEnrolled
	}
	return s.verifyTOTP(user.TwoFactorSecret, code, now)
}

// VerifyBackupCode burns one backup code. A consumed or unknown code is
// ErrInvalidCode.
func (s *Service) VerifyBackupCode(ctx context.Context, userID, code string, now time.Time) error {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return ErrInvalidCode
	}
	ok, err := s.codes.Consume(ctx, userID, token.HashSHA256Hex(code), now)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCode
	}
	return nil
}

// Disable removes the second factor and all backup codes.
func (s *Service) Disable(ctx context.Context, userID string, now time.Time) error {
	var (
		empty   []byte
		enabled = false
	)
	if err := s.users.UpdateUser(ctx, userID, identity.UserUpdate{
		TwoFactorSecret:  &empty,
		TwoFactorEnabled: &enabled,
	}); err != nil {
		return err
	}
	return s.codes.DeleteAll(ctx, userID)
}

// BackupCodesRemaining reports how many unused backup codes the user has.
func (s *Service) BackupCodesRemaining(ctx context.Context, userID string) (int, error) {
	return s.codes.Remaining(ctx, userID)
}

func (s *Service) verifyTOTP(sealed []byte, code string, now time.Time) error {
	if len(sealed) == 0 {
		return ErrNotEnrolled
	}
	secret, err := s.cipher.open(sealed)
	if err != nil {
		return ErrNotEnrolled
	}

	code = strings.TrimSpace(code)
	ok, err := totp.ValidateCustom(code, string(secret), now, validateOpts)
	if err != nil || !ok {
		return ErrInvalidCode
	}
	return nil
}

package twofactor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gcolon75/Project-Valine-sub005/cmd/security/token"
)

const (
	backupCodeCount = 10
	backupCodeBytes = 5 // 10 hex characters per code
)

// BackupCodeStore persists hashed one-time backup codes.
type BackupCodeStore interface {
	// Replace swaps the user's full code set. Used at enrollment.
	Replace(ctx context.Context, userID string, hashes []string, now time.Time) error
	// Consume burns one code. It reports false when the hash matches no
	// unused code for the user.
	Consume(ctx context.Context, userID, hash string, now time.Time) (bool, error)
	// Remaining counts unused codes for the user.
	Remaining(ctx context.Context, userID string) (int, error)
	// DeleteAll removes every code for the user.
	DeleteAll(ctx context.Context, userID string) error
}

func generateBackupCodes() ([]string, []string, error) {
	codes := make([]string, 0, backupCodeCount)
	hashes := make([]string, 0, backupCodeCount)
	for i := 0; i < backupCodeCount; i++ {
		buf := make([]byte, backupCodeBytes)
		if _, err := rand.Read(buf); err != nil {
			return nil, nil, err
		}
		code := hex.EncodeToString(buf)
		codes = append(codes, code)
		hashes = append(hashes, token.HashSHA256Hex(code))
	}
	return codes, hashes, nil
}

// PostgresBackupCodeStore implements BackupCodeStore (valine.backup_codes).
type PostgresBackupCodeStore struct {
	pool *pgxpool.Pool
}

// NewPostgresBackupCodeStore creates a Postgres-backed code store.
func NewPostgresBackupCodeStore(pool *pgxpool.Pool) *PostgresBackupCodeStore {
	return &PostgresBackupCodeStore{pool: pool}
}

func (s *PostgresBackupCodeStore) Replace(ctx context.Context, userID string, hashes []string, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		DELETE FROM valine.backup_codes WHERE user_id = $1
	`, userID); err != nil {
		return err
	}
	for _, h := range hashes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO valine.backup_codes (user_id, code_hash, created_at)
			VALUES ($1, $2, $3)
		`, userID, h, now); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Consume deletes the matching row; the delete doubles as the one-time
// guarantee since a second presentation matches nothing.
func (s *PostgresBackupCodeStore) Consume(ctx context.Context, userID, hash string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM valine.backup_codes
		WHERE user_id = $1 AND code_hash = $2
	`, userID, hash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresBackupCodeStore) Remaining(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM valine.backup_codes WHERE user_id = $1
	`, userID).Scan(&n)
	return n, err
}

func (s *PostgresBackupCodeStore) DeleteAll(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM valine.backup_codes WHERE user_id = $1
	`, userID)
	return err
}

// MemoryBackupCodeStore is an in-process BackupCodeStore for tests.
type MemoryBackupCodeStore struct {
	mu    sync.Mutex
	codes map[string]map[string]struct{} // userID -> hash set
}

// NewMemoryBackupCodeStore creates an empty in-memory store.
func NewMemoryBackupCodeStore() *MemoryBackupCodeStore {
	return &MemoryBackupCodeStore{codes: make(map[string]map[string]struct{})}
}

func (m *MemoryBackupCodeStore) Replace(ctx context.Context, userID string, hashes []string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	m.codes[userID] = set
	return nil
}

func (m *MemoryBackupCodeStore) Consume(ctx context.Context, userID, hash string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.codes[userID]
	if _, ok := set[hash]; !ok {
		return false, nil
	}
	delete(set, hash)
	return true, nil
}

func (m *MemoryBackupCodeStore) Remaining(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.codes[userID]), nil
}

func (m *MemoryBackupCodeStore) DeleteAll(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, userID)
	return nil
}

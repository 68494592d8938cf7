package twofactor

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeyEnvName is the environment variable holding the at-rest encryption
// key as 64 hex characters (32 bytes).
const KeyEnvName = "VALINE_TWOFACTOR_KEY"

// KeyFromEnv reads and decodes the at-rest encryption key.
func KeyFromEnv() ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(KeyEnvName))
	if raw == "" {
		return nil, ErrKeyMissing
	}
	key, err := hex.DecodeString(raw)
	if err != nil || len(key) != chacha20poly1305.KeySize {
		return nil, ErrKeyMissing
	}
	return key, nil
}

// secretCipher seals and opens TOTP secrets with XChaCha20-Poly1305. The
// random nonce is prepended to the ciphertext.
type secretCipher struct {
	key []byte
}

func newSecretCipher(key []byte) (*secretCipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrKeyMissing
	}
	return &secretCipher{key: key}, nil
}

func (c *secretCipher) seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *secretCipher) open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, ErrNotEnrolled
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}

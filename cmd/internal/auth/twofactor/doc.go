// Package twofactor implements TOTP second-factor enrollment and
// verification plus one-time backup codes.
//
// TOTP secrets are encrypted at rest; the database only ever sees
// ciphertext. Codes are accepted within one 30-second step of skew in
// either direction. Backup codes are stored hashed and each one is
// consumable exactly once.
package twofactor

package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization.
// Note: for now we only trim + lower-case. Additional rules (unicode
// confusables, plus-addressing) can be added later behind a versioned policy.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

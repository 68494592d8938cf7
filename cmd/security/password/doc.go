// Package password implements Valine's credential hashing (Argon2id).
//
// It is the single source of truth for:
//   - Argon2id parameters (defaults + env overrides)
//   - password policy (defaults + env overrides)
//   - strict PHC decoding + anti-DoS bounds during Verify
//
// Verification cost is tuned so a single verify lands in the tens-to-low-
// hundreds of milliseconds range on commodity hardware, which is what makes
// online credential guessing expensive.
package password

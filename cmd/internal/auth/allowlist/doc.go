// Package allowlist gates registration on a curated set of email addresses.
//
// Entries come from a TOML file or a comma-separated environment variable
// and are matched against normalized emails. The file is re-read on a short
// TTL and immediately on filesystem change notifications, so edits land
// without a restart.
//
// In strict mode a list with fewer than two entries is treated as a
// misconfiguration and every check fails closed until the list is fixed.
package allowlist

// Package ratelimit implements database-backed failed-attempt throttling.
//
// Counters live in a relational table keyed by (scope, key) so every
// application instance shares the same view; there is no in-process mutable
// state. A counter tracks failures inside a sliding window; crossing the
// policy threshold stamps a lockout deadline, and requests are refused until
// it passes. Successful authentication resets the counter.
package ratelimit

// Package audit records authentication events to an append-only log.
//
// Events are written before the HTTP response is sent so a crash cannot
// produce an acknowledged-but-unlogged outcome. Email addresses are masked
// before they reach the log; the raw address never does.
package audit

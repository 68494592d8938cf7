// Package identity implements Valine's user-record foundation.
//
// It owns the narrow collaborator surface the auth core consumes:
// find-by-email, create, and field updates over the users table, plus
// ULID generation and email normalization. The business-entity schema
// (profiles, posts, connections) lives elsewhere; this package only
// touches the credential and two-factor columns.
package identity

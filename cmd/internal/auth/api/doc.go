// Package authapi wires the authentication endpoints to the identity,
// session, throttling, allowlist, and two-factor services.
//
// Tokens travel in cookies: the access and refresh cookies are HttpOnly,
// the CSRF cookie is readable by the frontend and echoed back in a header
// on every refresh (double-submit). Cookie attributes follow the deployment
// mode: production sets Secure and SameSite=None for the cross-site
// frontend, development uses Lax over plain HTTP.
//
// Login failures are indistinguishable from the outside: unknown accounts,
// wrong passwords, and bad second factors all produce the same generic
// response, and unknown accounts still burn an Argon2id verification so
// response timing does not leak account existence.
package authapi

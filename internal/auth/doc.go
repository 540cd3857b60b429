// Package auth provides optional bearer-token authentication for the HTTP API.
//
// Tokens are HS256 JWTs signed with the configured jwt_secret and issued
// by "ephemera". The "sub" claim names the caller and is attached to the
// request for logging. Expiry is checked with DefaultLeeway of clock skew.
// The token subcommand mints tokens with the same secret:
//
//	verifier, err := NewJWTVerifier(secret)
//	token, err := verifier.Generate("ops", 24*time.Hour)
//
// When no secret is configured the API runs unauthenticated.
package auth

// Package auth implements the OAuth2 PKCE login flow and access token
// lifecycle for the OCA gateway. It covers PKCE code generation, the pending
// login session table, OIDC endpoint discovery, the token endpoint exchanges,
// and a refresh-coalescing token manager backed by persistent storage.
package auth

import "errors"

var (
	// ErrNotAuthenticated indicates no refresh token has ever been obtained.
	// The operator must run the login flow before the gateway can serve requests.
	ErrNotAuthenticated = errors.New("not authenticated, please login first")

	// ErrAuthExpired indicates the identity provider rejected the stored
	// refresh token. Local token state is cleared when this is returned and
	// the login flow must be re-run.
	ErrAuthExpired = errors.New("authentication expired, please login again")

	// ErrRefreshFailed indicates a transient failure (network error, provider
	// 5xx) during refresh. Stored token state is preserved and the operation
	// is safe to retry.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrInvalidOrExpiredState indicates the OAuth callback carried a state
	// value with no live login session: expired, already consumed, or forged.
	ErrInvalidOrExpiredState = errors.New("invalid or expired authorization state")

	// ErrNoRefreshToken indicates the token endpoint response omitted a
	// refresh token, leaving nothing to persist for future sessions.
	ErrNoRefreshToken = errors.New("token response did not include a refresh token")
)

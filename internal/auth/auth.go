// Package auth provides bearer-token acquisition for the standalone
// transport: an OAuth2 client-credentials provider with cached refresh.
package auth

import "context"

// Provider supplies bearer tokens for outgoing requests. Implementations
// must be safe for concurrent use; token refresh is serialized so callers
// arriving during a refresh wait for the refreshed token.
type Provider interface {
	// AccessToken returns a valid bearer token, fetching a new one if the
	// cached token is missing or near expiry.
	AccessToken(ctx context.Context) (string, error)

	// Invalidate discards the cached token so the next AccessToken call
	// performs a fresh acquisition. Called after an unexpected 401.
	Invalidate()
}

// Static is a Provider that always returns the same token. Used in tests
// and for pre-issued personal tokens.
type Static string

// AccessToken implements Provider.
func (s Static) AccessToken(context.Context) (string, error) { return string(s), nil }

// Invalidate implements Provider. Static tokens cannot be refreshed.
func (Static) Invalidate() {}

package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/stackspot/stkai-go/internal/auth"
	"github.com/stackspot/stkai-go/transport"
)

// Standalone attaches bearer tokens from an auth.Provider. On a 401 the
// cached token is invalidated and the call retried exactly once with a fresh
// token; a second 401 becomes an AuthError.
type Standalone struct {
	next     transport.Transport
	provider auth.Provider
	logger   *slog.Logger
}

// NewStandalone wraps next with client-credentials authentication.
func NewStandalone(next transport.Transport, provider auth.Provider, logger *slog.Logger) *Standalone {
	if logger == nil {
		logger = slog.Default()
	}
	return &Standalone{
		next:     next,
		provider: provider,
		logger:   logger.With("component", "httpx.standalone"),
	}
}

// Do implements transport.Transport.
func (s *Standalone) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	resp, err := s.attempt(ctx, req)
	if !isUnauthorized(err) {
		return resp, err
	}

	s.logger.Info("401 received, forcing token refresh", "url", req.URL)
	s.provider.Invalidate()

	resp, err = s.attempt(ctx, req)
	if isUnauthorized(err) {
		return nil, &transport.AuthError{Reason: "401 after forced token refresh", Err: err}
	}
	return resp, err
}

func (s *Standalone) attempt(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	token, err := s.provider.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	signed := *req
	signed.Headers = cloneHeaders(req.Headers)
	signed.Headers.Set("Authorization", "Bearer "+token)
	return s.next.Do(ctx, &signed)
}

func isUnauthorized(err error) bool {
	var status *transport.StatusError
	return errors.As(err, &status) && status.StatusCode == http.StatusUnauthorized
}

func cloneHeaders(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}

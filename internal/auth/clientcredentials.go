package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/stackspot/stkai-go/internal/config"
	"github.com/stackspot/stkai-go/transport"
)

// defaultExpiresIn is assumed when the token endpoint omits expires_in.
const defaultExpiresIn = 1199 * time.Second

// ClientCredentials implements the OAuth2 client-credentials grant against
// the platform identity service. Tokens are cached and refreshed shortly
// before expiry so callers rarely pay the acquisition round trip.
type ClientCredentials struct {
	clientID      string
	clientSecret  string
	tokenURL      string
	refreshMargin time.Duration

	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewClientCredentials creates a provider from the auth config group.
func NewClientCredentials(cfg config.Auth, logger *slog.Logger) *ClientCredentials {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientCredentials{
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		tokenURL:      cfg.TokenURL,
		refreshMargin: cfg.RefreshMargin,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		logger:        logger.With("component", "auth.client_credentials"),
		now:           time.Now,
	}
}

// AccessToken implements Provider. The lock is held across the fetch so a
// burst of callers triggers exactly one token request.
func (c *ClientCredentials) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiresAt.Add(-c.refreshMargin)) {
		return c.token, nil
	}

	token, expiresIn, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expiresAt = c.now().Add(expiresIn)
	c.logger.Debug("access token refreshed", "expires_in", expiresIn)
	return c.token, nil
}

// Invalidate implements Provider.
func (c *ClientCredentials) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}

func (c *ClientCredentials) fetch(ctx context.Context) (string, time.Duration, error) {
	if c.clientID == "" || c.clientSecret == "" {
		return "", 0, &transport.AuthError{Reason: "client credentials not configured"}
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, &transport.AuthError{Reason: "building token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, &transport.AuthError{Reason: "token endpoint unreachable", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, &transport.AuthError{Reason: "reading token response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, &transport.AuthError{
			Reason: fmt.Sprintf("token endpoint returned %d", resp.StatusCode),
		}
	}

	var payload struct {
		AccessToken string   `json:"access_token"`
		ExpiresIn   *float64 `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", 0, &transport.AuthError{Reason: "decoding token response", Err: err}
	}
	if payload.AccessToken == "" {
		return "", 0, &transport.AuthError{Reason: "token response missing access_token"}
	}

	expiresIn := defaultExpiresIn
	if payload.ExpiresIn != nil {
		expiresIn = time.Duration(*payload.ExpiresIn * float64(time.Second))
	}
	return payload.AccessToken, expiresIn, nil
}

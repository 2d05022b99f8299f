package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// MaxRetryAfter is the largest Retry-After value the client honors. Larger
// values are ignored and the client falls back to its own backoff.
const MaxRetryAfter = 60 * time.Second

// StatusError is returned by transports for any response with status >= 400.
// RetryAfter is zero when the header is absent or unparsable.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.StatusCode, truncate(e.Body, 200))
}

// NewStatusError builds a StatusError from a wire response, extracting the
// Retry-After header (seconds form only).
func NewStatusError(status int, headers http.Header, body []byte) *StatusError {
	e := &StatusError{StatusCode: status, Body: body}
	if v := headers.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			e.RetryAfter = time.Duration(secs * float64(time.Second))
		}
	}
	return e
}

// ThrottleError wraps a 429 observed by the adaptive limiter after the rate
// penalty has been applied. It carries the server response so the retry layer
// can honor Retry-After.
type ThrottleError struct {
	Status *StatusError
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("server throttled request: %v", e.Status)
}

func (e *ThrottleError) Unwrap() error { return e.Status }

// TokenWaitError is returned when acquiring a client-side rate limit token
// would exceed the configured maximum wait.
type TokenWaitError struct {
	Waited  time.Duration
	MaxWait time.Duration
}

func (e *TokenWaitError) Error() string {
	return fmt.Sprintf("rate limit token not acquired within %s (waited %s)", e.MaxWait, e.Waited)
}

// MalformedError indicates a 2xx response whose body is missing required
// fields or cannot be decoded. Never retried.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return "malformed response: " + e.Reason
}

// AuthError indicates the transport could not authenticate the call, either
// because token acquisition failed or a 401 survived a forced refresh.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsRetryable classifies an error per the SDK taxonomy: network failures,
// 5xx, 408, 429, server throttles and client-side token-wait timeouts are
// retryable; other 4xx, malformed responses, handler and auth failures are
// not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var throttle *ThrottleError
	if errors.As(err, &throttle) {
		return true
	}
	var tokenWait *TokenWaitError
	if errors.As(err, &tokenWait) {
		return true
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}
	var malformed *MalformedError
	if errors.As(err, &malformed) {
		return false
	}

	var status *StatusError
	if errors.As(err, &status) {
		switch {
		case status.StatusCode >= 500:
			return true
		case status.StatusCode == http.StatusRequestTimeout,
			status.StatusCode == http.StatusTooManyRequests:
			return true
		default:
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	// Dial, DNS and TLS failures surface as *url.Error from net/http, which
	// implements net.Error.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// IsTimeout reports whether the error chain indicates a timeout condition:
// request deadline, HTTP 408, or token-wait exhaustion.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var tokenWait *TokenWaitError
	if errors.As(err, &tokenWait) {
		return true
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.StatusCode == http.StatusRequestTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// RetryAfterHint extracts an honored Retry-After duration from the error
// chain. Returns zero when absent or above MaxRetryAfter.
func RetryAfterHint(err error) time.Duration {
	var status *StatusError
	if !errors.As(err, &status) {
		return 0
	}
	if status.RetryAfter <= 0 || status.RetryAfter > MaxRetryAfter {
		return 0
	}
	return status.RetryAfter
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Package resilience provides reliability patterns for the transport stack:
// a retry engine with jittered exponential backoff and a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/stackspot/stkai-go/transport"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting
// calls. It is never retried; callers fail fast until the cooldown elapses.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// Breaker counts consecutive availability failures of the platform and opens
// the circuit when a threshold is reached, rejecting calls until a cooldown
// elapses. After the cooldown one probe call is admitted; its outcome decides
// whether the circuit closes again.
//
// Only errors that signal the platform is unreachable or failing count:
// timeouts, connection errors and 5xx answers. A 429 is backpressure owned by
// the rate limiter, and other 4xx mean the server is up and answering.
type Breaker struct {
	mu          sync.Mutex
	state       state
	failures    int
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	logger      *slog.Logger
	now         func() time.Time
}

// NewBreaker creates a circuit breaker that opens after maxFailures
// consecutive failures and stays open for timeout before admitting a probe.
func NewBreaker(maxFailures int, timeout time.Duration, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		logger:      logger.With("component", "resilience.breaker"),
		now:         time.Now,
	}
}

// Allow reports whether the circuit admits a call right now, returning
// ErrCircuitOpen when it does not. Crossing the cooldown moves the circuit
// to half-open and admits the probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateOpen {
		if b.now().Sub(b.openedAt) < b.timeout {
			return ErrCircuitOpen
		}
		b.state = stateHalfOpen
		b.logger.Info("circuit half-open, admitting probe call")
		return nil
	}
	if b.state == stateHalfOpen {
		// The probe is still in flight; its outcome has not been recorded.
		return ErrCircuitOpen
	}
	return nil
}

// Record feeds one call outcome into the breaker. Errors carrying no
// availability signal count as successes: the server answered, the answer
// just was not what the caller wanted.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !countsAsFailure(err) {
		if b.state != stateClosed {
			b.logger.Info("circuit closed after successful probe")
		}
		b.state = stateClosed
		b.failures = 0
		return
	}

	b.failures++
	if b.state != stateHalfOpen && b.failures < b.maxFailures {
		return
	}
	if b.state != stateOpen {
		b.logger.Warn("circuit opened",
			"failures", b.failures, "cooldown", b.timeout)
	}
	b.state = stateOpen
	b.openedAt = b.now()
}

// countsAsFailure classifies err against the transport error taxonomy.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		// The caller gave up; says nothing about the platform.
		return false
	}
	var throttle *transport.ThrottleError
	if errors.As(err, &throttle) {
		return false
	}
	var wait *transport.TokenWaitError
	if errors.As(err, &wait) {
		// Local wait budget; the server never saw the request.
		return false
	}
	var malformed *transport.MalformedError
	if errors.As(err, &malformed) {
		return false
	}
	var status *transport.StatusError
	if errors.As(err, &status) {
		return status.StatusCode >= 500 || status.StatusCode == http.StatusRequestTimeout
	}
	// Timeouts and transport-level connection failures.
	return true
}

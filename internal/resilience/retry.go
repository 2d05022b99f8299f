package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/stackspot/stkai-go/transport"
)

// MaxRetriesError wraps the last error after the retry budget is exhausted.
type MaxRetriesError struct {
	Attempts int
	Err      error
}

func (e *MaxRetriesError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *MaxRetriesError) Unwrap() error { return e.Err }

// Retry re-invokes a fallible operation on retryable failures with jittered
// exponential backoff, honoring server Retry-After hints up to 60 seconds.
// A Retry holds no per-call state and is safe for concurrent use.
type Retry struct {
	maxRetries   int
	initialDelay time.Duration
	logger       *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetry creates a retry engine. maxRetries of zero disables retrying
// entirely: the operation runs once and its error propagates unwrapped.
func NewRetry(maxRetries int, initialDelay time.Duration, logger *slog.Logger) *Retry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retry{
		maxRetries:   maxRetries,
		initialDelay: initialDelay,
		logger:       logger.With("component", "resilience.retry"),
		rng:          rand.New(rand.NewSource(rand.Int63())),
		sleep:        sleepContext,
	}
}

// Do runs op, retrying on retryable errors until the budget is exhausted.
// Attempt numbers passed to op are 1-indexed.
func (r *Retry) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxRetries+1; attempt++ {
		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if !transport.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt > r.maxRetries {
			break
		}

		delay := r.backoff(attempt, lastErr)
		r.logger.Debug("retrying after failure",
			"attempt", attempt, "delay", delay, "error", lastErr)
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}

	if r.maxRetries == 0 {
		return lastErr
	}
	return &MaxRetriesError{Attempts: r.maxRetries + 1, Err: lastErr}
}

// backoff computes the sleep before the next attempt: exponential in the
// attempt number, raised to any honored Retry-After hint, then stretched by
// 0-30% of ephemeral jitter.
func (r *Retry) backoff(attempt int, err error) time.Duration {
	base := r.initialDelay << (attempt - 1)
	if hint := transport.RetryAfterHint(err); hint > base {
		base = hint
	}
	return time.Duration(float64(base) * (1 + r.uniform()*0.3))
}

func (r *Retry) uniform() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

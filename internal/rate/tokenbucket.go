package rate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stackspot/stkai-go/transport"
)

// TokenBucketConfig holds the fixed-rate limiter parameters. MaxWaitTime nil
// means callers wait for a token indefinitely (bounded only by ctx).
type TokenBucketConfig struct {
	MaxRequests int
	TimeWindow  time.Duration
	MaxWaitTime *time.Duration
	Logger      *slog.Logger
}

// TokenBucket throttles work-creating requests through a token bucket.
// Polling reads pass through unthrottled. Safe for concurrent use; the
// mandatory sleep happens outside the lock.
type TokenBucket struct {
	next transport.Transport

	mu         sync.Mutex
	capacity   float64
	fillRate   float64 // tokens per second
	tokens     float64
	lastRefill time.Time

	maxWait     *time.Duration
	sleepJitter *Jitter
	logger      *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTokenBucket wraps next with fixed-rate throttling. The bucket starts
// full so a quiet client can burst up to MaxRequests.
func NewTokenBucket(next transport.Transport, cfg TokenBucketConfig) *TokenBucket {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tb := &TokenBucket{
		next:        next,
		capacity:    float64(cfg.MaxRequests),
		fillRate:    float64(cfg.MaxRequests) / cfg.TimeWindow.Seconds(),
		tokens:      float64(cfg.MaxRequests),
		maxWait:     cfg.MaxWaitTime,
		sleepJitter: NewStructuralJitter(0.2),
		logger:      logger.With("component", "rate.token_bucket"),
		now:         time.Now,
		sleep:       sleepContext,
	}
	tb.lastRefill = tb.now()
	return tb
}

// Do implements transport.Transport.
func (tb *TokenBucket) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if !req.WorkCreating() {
		return tb.next.Do(ctx, req)
	}
	if err := tb.acquire(ctx); err != nil {
		return nil, err
	}
	return tb.next.Do(ctx, req)
}

// acquire blocks until a token is available or the accumulated wait would
// exceed the configured maximum.
func (tb *TokenBucket) acquire(ctx context.Context) error {
	var waited time.Duration
	for {
		tb.mu.Lock()
		tb.refill()
		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - tb.tokens) / tb.fillRate * float64(time.Second))
		tb.mu.Unlock()

		if tb.maxWait != nil && waited+wait > *tb.maxWait {
			tb.logger.Warn("token wait budget exhausted",
				"waited", waited, "needed", wait, "max_wait", *tb.maxWait)
			return &transport.TokenWaitError{Waited: waited, MaxWait: *tb.maxWait}
		}

		wait = time.Duration(tb.sleepJitter.Apply(float64(wait)))
		if err := tb.sleep(ctx, wait); err != nil {
			return err
		}
		waited += wait
	}
}

// refill must be called with tb.mu held.
func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens = min(tb.capacity, tb.tokens+elapsed*tb.fillRate)
	tb.lastRefill = now
}

// Tokens returns the current token count after a refill (for tests).
func (tb *TokenBucket) Tokens() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens
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

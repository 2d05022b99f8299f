package rate

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stackspot/stkai-go/transport"
)

func newTestAdaptive(t *testing.T, next transport.Transport, cfg AdaptiveConfig, clock *fakeClock) *Adaptive {
	t.Helper()
	cfg.Logger = quietLogger()
	if cfg.StructuralJitter == nil {
		cfg.StructuralJitter = NewSeededJitter(0, 1)
	}
	a := NewAdaptive(next, cfg)
	a.now = clock.Now
	a.lastRefill = clock.Now()
	a.sleep = func(ctx context.Context, d time.Duration) error {
		clock.Advance(d)
		return nil
	}
	return a
}

func rateLimitedTransport(after int) transport.Transport {
	calls := 0
	return transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		calls++
		if calls > after {
			return nil, &transport.StatusError{StatusCode: http.StatusTooManyRequests}
		}
		return &transport.Response{StatusCode: 200}, nil
	})
}

func baseConfig() AdaptiveConfig {
	return AdaptiveConfig{
		MaxRequests:    100,
		TimeWindow:     time.Minute,
		MinRateFloor:   0.1,
		PenaltyFactor:  0.3,
		RecoveryFactor: 0.05,
	}
}

func TestColdStartIsOptimistic(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	a := newTestAdaptive(t, okTransport(nil), baseConfig(), clock)

	if got := a.EffectiveRate(); got != 100 {
		t.Fatalf("cold-start rate = %f, want max 100", got)
	}
	if _, err := a.Do(context.Background(), postReq()); err != nil {
		t.Fatalf("first call should pass without waiting: %v", err)
	}
}

func TestRateLimitAppliesMultiplicativeDecrease(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	a := newTestAdaptive(t, rateLimitedTransport(0), baseConfig(), clock)

	_, err := a.Do(context.Background(), postReq())
	var throttle *transport.ThrottleError
	if !errors.As(err, &throttle) {
		t.Fatalf("expected ThrottleError, got %v", err)
	}

	// Zero jitter: rate drops to exactly max * (1 - penalty).
	if got := a.EffectiveRate(); got != 70 {
		t.Fatalf("rate after 429 = %f, want 70", got)
	}
}

func TestSuccessAppliesAdditiveIncrease(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	a := newTestAdaptive(t, okTransport(nil), baseConfig(), clock)
	a.effectiveRate = 50
	a.tokens = 50

	if _, err := a.Do(context.Background(), postReq()); err != nil {
		t.Fatalf("call: %v", err)
	}
	// recovery 0.05 of max 100 → +5 per success.
	if got := a.EffectiveRate(); got != 55 {
		t.Fatalf("rate after success = %f, want 55", got)
	}
}

func TestRecoveryIsClampedAtMax(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	a := newTestAdaptive(t, okTransport(nil), baseConfig(), clock)
	a.effectiveRate = 99
	a.tokens = 99

	if _, err := a.Do(context.Background(), postReq()); err != nil {
		t.Fatalf("call: %v", err)
	}
	if got := a.EffectiveRate(); got != 100 {
		t.Fatalf("rate = %f, want clamp at 100", got)
	}
}

func TestPenaltyIsClampedAtFloor(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	a := newTestAdaptive(t, rateLimitedTransport(0), baseConfig(), clock)
	a.effectiveRate = 11
	a.tokens = 11

	for i := 0; i < 20; i++ {
		_, _ = a.Do(context.Background(), postReq())
	}
	if got := a.EffectiveRate(); got != 10 {
		t.Fatalf("rate = %f, want floor 10", got)
	}
	if got := a.EffectiveRate(); got <= 0 {
		t.Fatal("rate must never collapse to zero")
	}
}

func TestPenaltyDiscardsExcessTokens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	a := newTestAdaptive(t, rateLimitedTransport(0), baseConfig(), clock)

	_, _ = a.Do(context.Background(), postReq())

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tokens > a.effectiveRate {
		t.Fatalf("tokens %f exceed effective rate %f after penalty", a.tokens, a.effectiveRate)
	}
}

func TestNonSignalErrorsLeaveRateUntouched(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	boom := &transport.StatusError{StatusCode: http.StatusInternalServerError}
	next := transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		return nil, boom
	})
	a := newTestAdaptive(t, next, baseConfig(), clock)

	if _, err := a.Do(context.Background(), postReq()); !errors.Is(err, boom) {
		t.Fatalf("expected 500 to propagate, got %v", err)
	}
	if got := a.EffectiveRate(); got != 100 {
		t.Fatalf("5xx must not move the rate, got %f", got)
	}
}

func TestPollingReadsBypassAdaptiveLimiter(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	calls := 0
	a := newTestAdaptive(t, okTransport(&calls), baseConfig(), clock)
	a.tokens = 0

	if _, err := a.Do(context.Background(), getReq()); err != nil {
		t.Fatalf("get: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if got := a.EffectiveRate(); got != 100 {
		t.Fatalf("GET outcome must not feed the control law, rate %f", got)
	}
}

func TestStructuralJitterDecorrelatesInstances(t *testing.T) {
	stimulate := func(seed int64) []float64 {
		clock := &fakeClock{now: time.Unix(1000, 0)}
		cfg := baseConfig()
		cfg.StructuralJitter = NewSeededJitter(0.2, seed)
		var rates []float64
		cfg.OnRateChange = func(r float64) { rates = append(rates, r) }
		a := newTestAdaptive(t, rateLimitedTransport(0), cfg, clock)
		for i := 0; i < 10; i++ {
			_, _ = a.Do(context.Background(), postReq())
		}
		return rates
	}

	a, b := stimulate(1), stimulate(2)
	if len(a) == 0 || len(a) != len(b) {
		t.Fatalf("rate traces have lengths %d and %d", len(a), len(b))
	}
	same := 0
	for i := range a {
		if a[i] == b[i] {
			same++
		}
	}
	if same == len(a) {
		t.Fatal("differently seeded limiters followed identical rate trajectories")
	}
}

func TestMaxWaitExhaustionOnAdaptiveLimiter(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	maxWait := 100 * time.Millisecond
	cfg := baseConfig()
	cfg.MaxRequests = 1
	cfg.TimeWindow = time.Hour
	cfg.MaxWaitTime = &maxWait
	a := newTestAdaptive(t, okTransport(nil), cfg, clock)
	a.tokens = 0

	err := a.acquire(context.Background())
	var tw *transport.TokenWaitError
	if !errors.As(err, &tw) {
		t.Fatalf("expected TokenWaitError, got %v", err)
	}
}

func TestColdStartPenaltyBound(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cfg := baseConfig()
	cfg.StructuralJitter = NewSeededJitter(0.2, 99)
	a := newTestAdaptive(t, rateLimitedTransport(0), cfg, clock)

	_, _ = a.Do(context.Background(), postReq())

	// Jitter factor lies in [0.8, 1.2], so one 429 cuts the rate to at most
	// max * (1 - penalty * 0.8).
	limit := 100 * (1 - 0.3*0.8)
	if got := a.EffectiveRate(); got > limit {
		t.Fatalf("rate after one 429 = %f, want <= %f", got, limit)
	}
}

//go:build load

// Package load contains load tests that are excluded from regular CI runs.
// Run with: go test -tags load -count=1 -timeout 60s ./tests/load/
package load

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stackspot/stkai-go/internal/rate"
	"github.com/stackspot/stkai-go/transport"
)

func okTransport() transport.Transport {
	return transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: http.StatusOK}, nil
	})
}

func postRequest() *transport.Request {
	return &transport.Request{Method: http.MethodPost, URL: "https://platform.test/v1/quick-commands/create-execution/slug"}
}

func getRequest() *transport.Request {
	return &transport.Request{Method: http.MethodGet, URL: "https://platform.test/v1/quick-commands/callback/id"}
}

func ptr(d time.Duration) *time.Duration { return &d }

// TestTokenBucketSustainedLoad fires 10 goroutines x 100 work-creating
// requests through a 10-per-minute bucket with a near-zero wait budget. The
// bucket starts full, so roughly the first 10 pass and the rest exhaust
// their wait budget.
func TestTokenBucketSustainedLoad(t *testing.T) {
	tb := rate.NewTokenBucket(okTransport(), rate.TokenBucketConfig{
		MaxRequests: 10,
		TimeWindow:  time.Minute,
		MaxWaitTime: ptr(time.Millisecond),
	})

	const goroutines = 10
	const reqsPerGoroutine = 100

	var ok, limited atomic.Int64
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()
			for range reqsPerGoroutine {
				_, err := tb.Do(context.Background(), postRequest())
				var waitErr *transport.TokenWaitError
				switch {
				case err == nil:
					ok.Add(1)
				case errors.As(err, &waitErr):
					limited.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		}()
	}

	wg.Wait()

	total := ok.Load() + limited.Load()
	limitedPct := float64(limited.Load()) / float64(total) * 100
	t.Logf("total=%d ok=%d limited=%d (%.1f%% rejected)", total, ok.Load(), limited.Load(), limitedPct)

	if ok.Load() < 10 {
		t.Errorf("the initial burst of 10 should pass, got %d", ok.Load())
	}
	// With a 10-token burst, a 10/min refill, and 1000 near-instant
	// requests, the overwhelming majority must exhaust the wait budget.
	if limitedPct < 80 {
		t.Errorf("expected >80%% rejected under sustained load, got %.1f%%", limitedPct)
	}
}

// TestTokenBucketPollingUnthrottled drives far more polling reads than the
// bucket holds tokens; none may consume a token or block.
func TestTokenBucketPollingUnthrottled(t *testing.T) {
	tb := rate.NewTokenBucket(okTransport(), rate.TokenBucketConfig{
		MaxRequests: 1,
		TimeWindow:  time.Hour,
		MaxWaitTime: ptr(time.Millisecond),
	})

	const goroutines = 10
	const reqsPerGoroutine = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range reqsPerGoroutine {
				if _, err := tb.Do(context.Background(), getRequest()); err != nil {
					t.Errorf("polling read was throttled: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := tb.Tokens(); got < 1 {
		t.Errorf("polling reads consumed tokens: %f remaining, want 1", got)
	}
}

// TestAdaptiveRateCollapsesUnderThrottle hammers a server that always
// answers 429 and checks the effective rate is driven to the floor, with
// every throttle surfaced as a ThrottleError.
func TestAdaptiveRateCollapsesUnderThrottle(t *testing.T) {
	throttling := transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		return nil, transport.NewStatusError(http.StatusTooManyRequests, http.Header{}, nil)
	})

	const maxRequests = 1000
	a := rate.NewAdaptive(throttling, rate.AdaptiveConfig{
		MaxRequests:   maxRequests,
		TimeWindow:    time.Minute,
		MaxWaitTime:   ptr(time.Second),
		MinRateFloor:  0.1,
		PenaltyFactor: 0.5,
	})

	for i := 0; i < 60; i++ {
		_, err := a.Do(context.Background(), postRequest())
		if err == nil {
			t.Fatal("throttled request reported success")
		}
		var throttle *transport.ThrottleError
		var waitErr *transport.TokenWaitError
		if !errors.As(err, &throttle) && !errors.As(err, &waitErr) {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	floor := float64(maxRequests) * 0.1
	got := a.EffectiveRate()
	t.Logf("effective rate after sustained throttle: %.1f (floor %.1f)", got, floor)
	if got < floor {
		t.Errorf("effective rate %f fell below floor %f", got, floor)
	}
	// 60 halvings from 1000 must pin the rate at the floor long before the
	// loop ends.
	if got > floor*1.5 {
		t.Errorf("effective rate %f did not collapse toward floor %f", got, floor)
	}
}

// TestAdaptiveRateRecoversAfterThrottle drops the rate with scripted 429s,
// then feeds successes and checks additive recovery under concurrency.
func TestAdaptiveRateRecoversAfterThrottle(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	server := transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		if failing.Load() {
			return nil, transport.NewStatusError(http.StatusTooManyRequests, http.Header{}, nil)
		}
		return &transport.Response{StatusCode: http.StatusOK}, nil
	})

	const maxRequests = 100
	a := rate.NewAdaptive(server, rate.AdaptiveConfig{
		MaxRequests:    maxRequests,
		TimeWindow:     time.Second,
		MaxWaitTime:    ptr(5 * time.Second),
		MinRateFloor:   0.05,
		PenaltyFactor:  0.5,
		RecoveryFactor: 0.1,
	})

	for i := 0; i < 10; i++ {
		_, _ = a.Do(context.Background(), postRequest())
	}
	depressed := a.EffectiveRate()
	if depressed >= float64(maxRequests) {
		t.Fatalf("rate did not drop under throttle: %f", depressed)
	}

	failing.Store(false)

	const goroutines = 5
	const reqsPerGoroutine = 20
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range reqsPerGoroutine {
				if _, err := a.Do(context.Background(), postRequest()); err != nil {
					var waitErr *transport.TokenWaitError
					if !errors.As(err, &waitErr) {
						t.Errorf("unexpected error during recovery: %v", err)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	recovered := a.EffectiveRate()
	t.Logf("rate depressed=%.2f recovered=%.2f max=%d", depressed, recovered, maxRequests)
	if recovered <= depressed {
		t.Errorf("effective rate did not recover: %f -> %f", depressed, recovered)
	}
	if recovered > float64(maxRequests) {
		t.Errorf("effective rate %f exceeded maximum %d", recovered, maxRequests)
	}
}

package rate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/stackspot/stkai-go/transport"
)

// AdaptiveConfig holds the AIMD limiter parameters. MinRateFloor is a
// fraction of MaxRequests; the resulting floor rate is strictly positive so
// the rate can never collapse to zero.
type AdaptiveConfig struct {
	MaxRequests    int
	TimeWindow     time.Duration
	MaxWaitTime    *time.Duration
	MinRateFloor   float64
	PenaltyFactor  float64
	RecoveryFactor float64
	Logger         *slog.Logger

	// OnRateChange, when set, observes every effective-rate adjustment.
	OnRateChange func(rate float64)

	// StructuralJitter overrides the process-seeded jitter source (tests).
	StructuralJitter *Jitter
}

// Adaptive throttles work-creating requests through a token bucket whose
// fill rate follows an additive-increase, multiplicative-decrease law driven
// by server feedback: every 2xx nudges the rate up, every 429 cuts it.
type Adaptive struct {
	next transport.Transport

	mu            sync.Mutex
	maxRate       float64 // requests per window
	floorRate     float64
	effectiveRate float64
	tokens        float64
	lastRefill    time.Time

	window         time.Duration
	penaltyFactor  float64
	recoveryFactor float64
	maxWait        *time.Duration

	structJitter *Jitter
	onRateChange func(float64)
	logger       *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewAdaptive wraps next with feedback-driven throttling. Cold start is
// optimistic: the effective rate begins at the maximum and only a 429 can
// bring it down.
func NewAdaptive(next transport.Transport, cfg AdaptiveConfig) *Adaptive {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	jitter := cfg.StructuralJitter
	if jitter == nil {
		jitter = NewStructuralJitter(0.2)
	}
	maxRate := float64(cfg.MaxRequests)
	a := &Adaptive{
		next:           next,
		maxRate:        maxRate,
		floorRate:      maxRate * cfg.MinRateFloor,
		effectiveRate:  maxRate,
		tokens:         maxRate,
		window:         cfg.TimeWindow,
		penaltyFactor:  cfg.PenaltyFactor,
		recoveryFactor: cfg.RecoveryFactor,
		maxWait:        cfg.MaxWaitTime,
		structJitter:   jitter,
		onRateChange:   cfg.OnRateChange,
		logger:         logger.With("component", "rate.adaptive"),
		now:            time.Now,
		sleep:          sleepContext,
	}
	a.lastRefill = a.now()
	return a
}

// Do implements transport.Transport. Only work-creating requests consume
// tokens and feed the AIMD law; polling reads pass straight through.
func (a *Adaptive) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if !req.WorkCreating() {
		return a.next.Do(ctx, req)
	}
	if err := a.acquire(ctx); err != nil {
		return nil, err
	}

	resp, err := a.next.Do(ctx, req)
	if err == nil {
		a.onSuccess()
		return resp, nil
	}

	var status *transport.StatusError
	if errors.As(err, &status) && status.StatusCode == http.StatusTooManyRequests {
		a.onRateLimited()
		return nil, &transport.ThrottleError{Status: status}
	}
	// Other failures carry no rate signal.
	return nil, err
}

func (a *Adaptive) acquire(ctx context.Context) error {
	var waited time.Duration
	for {
		a.mu.Lock()
		a.refill()
		if a.tokens >= 1 {
			a.tokens--
			a.mu.Unlock()
			return nil
		}
		fillRate := a.effectiveRate / a.window.Seconds()
		wait := time.Duration((1 - a.tokens) / fillRate * float64(time.Second))
		a.mu.Unlock()

		if a.maxWait != nil && waited+wait > *a.maxWait {
			a.logger.Warn("token wait budget exhausted",
				"waited", waited, "needed", wait, "max_wait", *a.maxWait)
			return &transport.TokenWaitError{Waited: waited, MaxWait: *a.maxWait}
		}

		wait = time.Duration(a.structJitter.Apply(float64(wait)))
		if err := a.sleep(ctx, wait); err != nil {
			return err
		}
		waited += wait
	}
}

// refill must be called with a.mu held. The bucket never holds more tokens
// than the current effective rate allows.
func (a *Adaptive) refill() {
	now := a.now()
	elapsed := now.Sub(a.lastRefill).Seconds()
	fillRate := a.effectiveRate / a.window.Seconds()
	a.tokens = min(a.effectiveRate, a.tokens+elapsed*fillRate)
	a.lastRefill = now
}

// onSuccess applies the additive increase: a jittered fraction of the
// maximum rate, clamped at the maximum.
func (a *Adaptive) onSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.effectiveRate >= a.maxRate {
		return
	}
	increment := a.maxRate * a.recoveryFactor * a.structJitter.Next()
	a.effectiveRate = min(a.maxRate, a.effectiveRate+increment)
	a.rateChangedLocked()
}

// onRateLimited applies the multiplicative decrease, clamped at the floor,
// and discards tokens above the new effective maximum.
func (a *Adaptive) onRateLimited() {
	a.mu.Lock()
	defer a.mu.Unlock()

	factor := 1 - a.penaltyFactor*a.structJitter.Next()
	a.effectiveRate = max(a.floorRate, a.effectiveRate*factor)
	a.tokens = min(a.tokens, a.effectiveRate)
	a.logger.Warn("server throttle observed, rate reduced",
		"effective_rate", a.effectiveRate, "floor_rate", a.floorRate)
	a.rateChangedLocked()
}

// rateChangedLocked must be called with a.mu held.
func (a *Adaptive) rateChangedLocked() {
	if a.onRateChange != nil {
		a.onRateChange(a.effectiveRate)
	}
}

// EffectiveRate returns the current throttle rate in requests per window.
func (a *Adaptive) EffectiveRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.effectiveRate
}

package resilience

import (
	"context"

	"github.com/stackspot/stkai-go/transport"
)

// BreakerTransport guards a transport with a circuit breaker. Outcome
// classification lives in the Breaker itself.
type BreakerTransport struct {
	next    transport.Transport
	breaker *Breaker
}

// NewBreakerTransport wraps next with breaker.
func NewBreakerTransport(next transport.Transport, breaker *Breaker) *BreakerTransport {
	return &BreakerTransport{next: next, breaker: breaker}
}

// Do implements transport.Transport.
func (t *BreakerTransport) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if err := t.breaker.Allow(); err != nil {
		return nil, err
	}
	resp, err := t.next.Do(ctx, req)
	t.breaker.Record(err)
	return resp, err
}

// Package rate implements client-side throttling decorators for the
// transport stack: a fixed-rate token bucket and an adaptive AIMD limiter
// that reacts to server feedback.
package rate

import (
	"hash/fnv"
	"math/rand"
	"os"
	"sync"
)

// Jitter produces multiplicative perturbation factors in [1-f, 1+f].
//
// Structural jitter is seeded from the process identity so that independent
// processes sharing a server quota settle on different effective rates
// instead of oscillating in lock-step. Ephemeral jitter uses a free-running
// seed and is meant for backoff sleeps.
type Jitter struct {
	mu     sync.Mutex
	factor float64
	rng    *rand.Rand
}

// NewStructuralJitter returns a jitter source deterministically seeded from
// (hostname, pid). The same process produces the same factor sequence on
// every run.
func NewStructuralJitter(factor float64) *Jitter {
	return newJitter(factor, rand.New(rand.NewSource(processSeed())))
}

// NewEphemeralJitter returns an independently seeded jitter source for
// backoff sleeps.
func NewEphemeralJitter(factor float64) *Jitter {
	return newJitter(factor, rand.New(rand.NewSource(rand.Int63())))
}

// NewSeededJitter returns a jitter source with an explicit seed, for tests.
func NewSeededJitter(factor float64, seed int64) *Jitter {
	return newJitter(factor, rand.New(rand.NewSource(seed)))
}

func newJitter(factor float64, rng *rand.Rand) *Jitter {
	if factor < 0 {
		factor = 0
	}
	return &Jitter{factor: factor, rng: rng}
}

// Next returns the next factor in [1-f, 1+f].
func (j *Jitter) Next() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return 1 - j.factor + j.rng.Float64()*2*j.factor
}

// Apply scales v by the next jitter factor.
func (j *Jitter) Apply(v float64) float64 {
	return v * j.Next()
}

func processSeed() int64 {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(host))
	var pid [4]byte
	p := os.Getpid()
	pid[0] = byte(p)
	pid[1] = byte(p >> 8)
	pid[2] = byte(p >> 16)
	pid[3] = byte(p >> 24)
	_, _ = h.Write(pid[:])
	return int64(h.Sum64())
}

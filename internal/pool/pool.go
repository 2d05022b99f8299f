// Package pool provides a bounded-concurrency fan-out used by the batch
// execution surfaces.
package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent work using a weighted semaphore. Batch executions
// across clients should share a Pool sized to the platform's tolerance so a
// large batch cannot exhaust local sockets or trip server-side throttling.
type Pool struct {
	sem *semaphore.Weighted
}

// New creates a Pool that allows at most limit concurrent operations.
func New(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit))}
}

// Run acquires a slot, runs fn, and releases the slot. Blocks if all slots
// are busy. Returns ctx.Err() if the context is cancelled while waiting.
// If the pool is nil, fn is executed directly without concurrency control.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}

// Map runs fn for every item through the pool and returns the results in
// input order. fn must not panic; callers wrap it with their own recovery
// when a panic has a meaningful per-item representation.
func Map[T, R any](ctx context.Context, p *Pool, items []T, fn func(ctx context.Context, index int, item T) R) []R {
	results := make([]R, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item T) {
			defer wg.Done()
			_ = p.Run(ctx, func() error {
				results[i] = fn(ctx, i, item)
				return nil
			})
		}(i, item)
	}
	wg.Wait()
	return results
}

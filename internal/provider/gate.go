package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Gate bounds the request rate and the number of in-flight calls to one
// upstream service. All agents share a provider's gate.
type Gate struct {
	limiter *rate.Limiter
	sem     *semaphore.Weighted
}

// NewGate creates a gate. ratePerSecond <= 0 disables rate limiting and
// maxConcurrent <= 0 disables the concurrency bound.
func NewGate(ratePerSecond float64, burst, maxConcurrent int) *Gate {
	g := &Gate{}
	if ratePerSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	if maxConcurrent > 0 {
		g.sem = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return g
}

// Acquire waits for a rate token and a concurrency slot. The returned
// release func must be called when the call finishes. A nil Gate admits
// everything.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	if g == nil {
		return func() {}, nil
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %w", ErrRateLimited, err)
		}
	}
	if g.sem == nil {
		return func() {}, nil
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: waiting for slot: %w", ErrTimeout, err)
	}
	return func() { g.sem.Release(1) }, nil
}

type result[T any] struct {
	val T
	err error
}

// Call runs fn under timeout. If the deadline passes first Call returns
// ErrTimeout immediately, even if fn ignores its context; fn's eventual
// result is discarded.
func Call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- result[T]{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == context.DeadlineExceeded {
			return zero, fmt.Errorf("%w: %w", ErrTimeout, r.err)
		}
		return r.val, r.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return zero, ctx.Err()
	}
}

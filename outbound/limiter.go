// Package outbound caps concurrent outbound requests across every
// external client in the process. The Context7 client and the LLM
// providers acquire a slot before issuing a request; waiters queue, and
// a waiter queued past the configured timeout fails fast instead of
// piling up behind a slow upstream.
package outbound

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	defaultMaxInFlight  = 8
	defaultQueueTimeout = 2 * time.Second
)

// Limiter is a process-wide bound on in-flight outbound requests. A nil
// *Limiter is a legal no-op everywhere it is injected.
type Limiter struct {
	sem          *semaphore.Weighted
	queueTimeout time.Duration
}

// NewLimiter caps in-flight requests at max, failing queued acquirers
// after queueTimeout. Non-positive arguments take the defaults (8, 2s).
func NewLimiter(max int64, queueTimeout time.Duration) *Limiter {
	if max <= 0 {
		max = defaultMaxInFlight
	}
	if queueTimeout <= 0 {
		queueTimeout = defaultQueueTimeout
	}
	return &Limiter{sem: semaphore.NewWeighted(max), queueTimeout: queueTimeout}
}

// Acquire blocks until a slot frees, the caller's context is done, or the
// queue timeout elapses. On success it returns the release func the
// caller must invoke once the request completes.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if l == nil {
		return func() {}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.queueTimeout)
	defer cancel()
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("outbound: no request slot within %s: %w", l.queueTimeout, err)
	}
	return func() { l.sem.Release(1) }, nil
}

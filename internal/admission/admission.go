// Package admission bounds accepted webhook submissions per source key to a
// fixed number of events per window. Rejection is admission control, not a
// delivery failure: the producer is expected to retry after the returned
// interval.
package admission

import (
	"context"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// RetryAfter is the time remaining in the current window. Only
	// meaningful when Allowed is false.
	RetryAfter time.Duration
}

// Limiter decides whether a submission fits the rate budget for its source.
type Limiter interface {
	// Admit checks and consumes one slot for key. The check-and-increment
	// sequence is atomic per key: concurrent calls at the window boundary
	// never both take the last slot.
	Admit(ctx context.Context, key string) (Decision, error)

	// Limit reports the configured maximum events per window.
	Limit() int

	Close() error
}

// NoOpLimiter always admits (for tests or disabled rate limiting).
type NoOpLimiter struct{}

func (NoOpLimiter) Admit(ctx context.Context, key string) (Decision, error) {
	return Decision{Allowed: true}, nil
}

func (NoOpLimiter) Limit() int { return 0 }

func (NoOpLimiter) Close() error { return nil }

package transport

import (
	"context"

	"github.com/cenkalti/backoff/v4"
)

// BackoffInitialInterval, BackoffMaxIntervalSeconds, and BackoffRandomizationFactor
// tune the per-transport retry policy: a 1s base doubling up to a 5-minute
// cap, with at most 20% jitter so retries from many transports don't
// synchronize into a thundering herd.
const (
	BackoffInitialInterval     = 1 // seconds
	BackoffMaxIntervalSeconds  = 300
	BackoffRandomizationFactor = 0.2
	BackoffMultiplier          = 2.0
)

// NewRetryBackOff returns a fresh exponential backoff policy for one
// transport operation attempt sequence, bound to ctx so retries stop the
// moment ctx is canceled.
func NewRetryBackOff(ctx context.Context) backoff.BackOffContext {
	return backoff.WithContext(newTunedBackOff(), ctx)
}

func newTunedBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1_000_000_000 // 1s in nanoseconds
	b.MaxInterval = 300_000_000_000   // 5m in nanoseconds
	b.RandomizationFactor = BackoffRandomizationFactor
	b.Multiplier = BackoffMultiplier
	b.MaxElapsedTime = 0 // no overall cap; the caller's context deadline governs
	return b
}

// RetryTransportOp retries op under the standard per-transport backoff
// policy until it succeeds, ctx is canceled, or op returns a
// backoff.Permanent error.
func RetryTransportOp(ctx context.Context, op func() error) error {
	return backoff.Retry(op, NewRetryBackOff(ctx))
}

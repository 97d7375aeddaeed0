package broker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Connector is anything with a Connect step worth retrying.
type Connector interface {
	Connect(ctx context.Context) error
}

// NewReconnectBackOff returns an exponential policy that never gives up on
// its own; only ctx cancellation ends the retries.
func NewReconnectBackOff(initial, max time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	if initial > 0 {
		bo.InitialInterval = initial
	}
	if max > 0 {
		bo.MaxInterval = max
	}
	if bo.MaxInterval < bo.InitialInterval {
		bo.MaxInterval = bo.InitialInterval
	}
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// ConnectWithBackoff retries c.Connect until it succeeds or ctx ends.
// notify sees each failure and the wait before the next attempt.
func ConnectWithBackoff(ctx context.Context, c Connector, bo backoff.BackOff, notify func(error, time.Duration)) error {
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return c.Connect(ctx)
	}
	return backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
}

package connection

import (
	"context"
	"math"
	"time"
)

// Backoff defaults.
const (
	// DefaultBaseDelay is the delay before the first reconnect attempt.
	DefaultBaseDelay = 1 * time.Second

	// DefaultMaxDelay caps the reconnect delay.
	DefaultMaxDelay = 60 * time.Second
)

// Backoff computes exponential reconnect delays. It is a pure function of
// the attempt number; the Manager keeps the counter.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultBackoff returns the 1s..60s backoff.
func DefaultBackoff() Backoff {
	return Backoff{BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay}
}

// Delay returns min(BaseDelay * 2^attempt, MaxDelay). Negative attempts are
// treated as zero and a non-positive MaxDelay means no cap. The doubling
// saturates instead of overflowing.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.BaseDelay <= 0 {
		return 0
	}
	limit := b.MaxDelay
	if limit <= 0 {
		limit = time.Duration(math.MaxInt64)
	}
	d := b.BaseDelay
	for i := 0; i < attempt && d < limit; i++ {
		if d > limit/2 {
			return limit
		}
		d *= 2
	}
	return min(d, limit)
}

// Sequence returns the first n delays.
func (b Backoff) Sequence(n int) []time.Duration {
	out := make([]time.Duration, 0, n)
	for i := range n {
		out = append(out, b.Delay(i))
	}
	return out
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

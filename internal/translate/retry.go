package translate

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff returns the delay before retry n (0-indexed): base doubled per
// attempt, capped at max, plus up to 50% jitter.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	d := base << uint(min(attempt, 30))
	if d > max || d <= 0 {
		d = max
	}
	jitter := time.Duration(rand.Int64N(int64(d)/2 + 1))
	return d + jitter
}

// retryDelay prefers the server's Retry-After hint over the computed backoff.
func retryDelay(err error, attempt int, base, max time.Duration) time.Duration {
	if d, ok := RetryAfter(err); ok {
		return d
	}
	return Backoff(attempt, base, max)
}

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

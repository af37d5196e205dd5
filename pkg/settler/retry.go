package settler

import (
	"context"
	"time"
)

// Retry runs op up to attempts times, sleeping delay before each retry
// and multiplying the delay by factor after every failure. onError, when
// non-nil, observes each failed attempt. Cancellation of ctx stops the
// loop between attempts.
func Retry(ctx context.Context, op func() error, delay time.Duration, factor float64, attempts int, onError func(attempt int, err error)) error {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if onError != nil {
			onError(attempt, lastErr)
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * factor)
	}
	return lastErr
}

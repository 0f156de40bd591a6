package ble

import (
	"context"
	"time"
)

// maxBackoffShift keeps the shift inside a time.Duration.
const maxBackoffShift = 62

// backoffDelay returns base*2^attempt, capped at max. A max of zero or less
// than base disables growth.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if max < base {
		return base
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffShift || base > max>>uint(attempt) {
		return max
	}
	return base << uint(attempt)
}

// sleep waits for d or until ctx is done.
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

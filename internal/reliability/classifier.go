package reliability

import (
	"context"
	"errors"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableError reports whether a failed attempt is worth repeating.
// Cancellation of parent is never retryable; a per-attempt deadline or a
// network timeout is.
func IsRetryableError(parent context.Context, err error) bool {
	if err == nil {
		return false
	}
	if parent != nil && parent.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// attempt deadlines, timeouts and transport failures are all transient
	return true
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, limit time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt <= 0 {
		return min(base, limit)
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return d
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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

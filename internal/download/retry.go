package download

import "time"

// RetryPolicy decides which HTTP failures are worth another attempt and how
// long to wait between attempts. Applied uniformly by the engine, independent
// of the HTTP client in use.
type RetryPolicy struct {
	MaxAttempts     int
	Backoff         time.Duration
	RetryableStatus map[int]struct{}
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4, // first try + 3 retries
		Backoff:     500 * time.Millisecond,
		RetryableStatus: map[int]struct{}{
			429: {}, 500: {}, 502: {}, 503: {}, 504: {},
		},
	}
}

func (p RetryPolicy) Retryable(status int) bool {
	_, ok := p.RetryableStatus[status]
	return ok
}

// Delay returns the exponential backoff before the given retry attempt
// (attempt 1 is the first retry), capped at 30s.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Backoff << uint(attempt-1)
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

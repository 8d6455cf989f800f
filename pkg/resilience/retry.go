package resilience

import (
	"context"
	"time"
)

// RetryPolicy retries short synchronous operations a fixed number of times
// with a constant pause between attempts. Session reconnects use Backoff
// instead; this covers calls like a Kafka publish that either succeed
// quickly or are worth one more try.
type RetryPolicy struct {
	MaxRetries int
	Pause      time.Duration
}

func NewRetryPolicy(maxRetries int, pause time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if pause <= 0 {
		pause = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Pause: pause}
}

// Do runs fn until it succeeds or the retry budget is spent. A canceled ctx
// cuts the pauses short; the last attempt's error is returned either way.
func (r RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= r.MaxRetries {
			return err
		}
		select {
		case <-time.After(r.Pause):
		case <-ctx.Done():
			return err
		}
	}
}

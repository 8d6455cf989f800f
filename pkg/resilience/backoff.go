package resilience

import "time"

// Backoff computes exponential reconnect delays: base, 2*base, 4*base, ...
// capped at Max. Attempt numbering starts at 1.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func NewBackoff(base, max time.Duration) Backoff {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return Backoff{Base: base, Max: max}
}

// Delay returns the wait duration before the given reconnect attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return b.Base
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	return d
}

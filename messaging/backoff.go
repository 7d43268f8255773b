package messaging

import (
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays: Base * 2^(attempt-1), capped at Max, with
// ±Jitter applied to spread retries from concurrent relays.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // fraction, 0.2 = ±20%

	rand func() float64
}

func NewBackoff(base, max time.Duration) Backoff {
	return Backoff{Base: base, Max: max, Jitter: 0.2, rand: rand.Float64}
}

// Delay returns the wait before retry number attempt (1-based: the delay
// after the first failure is Delay(1)).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max || d <= 0 {
		d = b.Max
	}
	if b.Jitter <= 0 {
		return d
	}
	r := b.rand
	if r == nil {
		r = rand.Float64
	}
	return time.Duration(float64(d) * (1 - b.Jitter + 2*b.Jitter*r()))
}

package queue

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays: exponential growth capped at Cap, then
// randomized within ±Jitter to avoid synchronized retry storms.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64

	// rnd returns a uniform value in [0,1); overridable for tests.
	rnd func() float64
}

func NewBackoff(base, cap time.Duration, jitter float64) Backoff {
	return Backoff{Base: base, Cap: cap, Jitter: jitter, rnd: rand.Float64}
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := b.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.Cap {
			delay = b.Cap
			break
		}
	}
	if delay > b.Cap {
		delay = b.Cap
	}
	if b.Jitter > 0 {
		rnd := b.rnd
		if rnd == nil {
			rnd = rand.Float64
		}
		factor := 1 - b.Jitter + 2*b.Jitter*rnd()
		delay = time.Duration(float64(delay) * factor)
	}
	return delay
}

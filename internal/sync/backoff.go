package sync

import (
	"math/rand"
	"time"
)

// Backoff is the retry delay policy, expressed as pure data so tests can
// compute delays without waiting on a clock.
type Backoff struct {
	Base       time.Duration  // first delay
	Multiplier float64        // growth per consecutive failure
	Max        time.Duration  // cap
	Jitter     float64        // fraction of the delay randomized, 0..1
	Rand       func() float64 // uniform [0,1); nil uses math/rand
}

// DefaultBackoff mirrors the usual client retry curve: 2s, 4s, 8s... capped
// at 5 minutes with 20% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       2 * time.Second,
		Multiplier: 2,
		Max:        5 * time.Minute,
		Jitter:     0.2,
	}
}

// Delay returns the wait before retry number attempt (1-based). Attempt 0
// and negative values are treated as attempt 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(b.Base)
	for i := 1; i < attempt; i++ {
		d *= b.Multiplier
		if d >= float64(b.Max) {
			break
		}
	}
	if d > float64(b.Max) {
		d = float64(b.Max)
	}

	if b.Jitter > 0 {
		rnd := b.Rand
		if rnd == nil {
			rnd = rand.Float64
		}
		// Spread the delay across [d*(1-jitter), d] so synchronized clients
		// don't retry in lockstep.
		d -= d * b.Jitter * rnd()
	}

	return time.Duration(d)
}

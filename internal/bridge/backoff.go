package bridge

import (
	"math"
	"math/rand"
	"time"
)

// Backoff shapes the delay between reopen attempts.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool
}

// Delay returns the wait before attempt n (1-based). With jitter the delay is
// scaled by a factor in [0.5, 1.5).
func (b Backoff) Delay(n int, rng *rand.Rand) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.Initial)
	if n > 1 {
		d *= math.Pow(mult, float64(n-1))
	}
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter {
		f := 0.5
		if rng != nil {
			f += rng.Float64()
		}
		d *= f
	}
	return time.Duration(d)
}

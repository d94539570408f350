package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff returns the pause after the given zero-based failed attempt.
type Backoff interface {
	Next(attempt int) time.Duration
}

// ExpoJitter doubles Base per attempt up to Max, then spreads the result by
// +/- Jitter (a fraction, 0.2 = 20%).
type ExpoJitter struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

func (b ExpoJitter) Next(attempt int) time.Duration {
	attempt = max(attempt, 0)
	d := float64(b.Base) * math.Pow(2, float64(attempt))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d *= 1 + (rand.Float64()*2-1)*b.Jitter
	}
	return time.Duration(d)
}

// Constant waits the same duration after every attempt.
type Constant time.Duration

func (c Constant) Next(int) time.Duration { return time.Duration(c) }

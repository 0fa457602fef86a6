package lmpi

import (
	"math"
	"math/rand/v2"
	"time"
)

// Reconnect policy defaults.
const (
	// DefaultRetryInterval is the base reconnect delay.
	DefaultRetryInterval = 30 * time.Second

	// DefaultMaxBackoff caps the exponential part of the delay.
	DefaultMaxBackoff = 300 * time.Second

	// DefaultJitter is the upper bound of the random delay added on top.
	DefaultJitter = 2 * time.Second

	// backoffMultiplier is the growth factor between consecutive failures.
	backoffMultiplier = 1.5

	// maxBackoffExponent stops growth after this many doublings so the
	// float maths cannot overflow for long outages.
	maxBackoffExponent = 10
)

// Backoff computes reconnect delays:
//
//	min(Base × 1.5^min(attempt-1, 10), Max) + uniform(0, Jitter)
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
}

// Delay returns the wait before reconnect attempt number attempt (1-based).
// Attempts below 1 are treated as the first attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := min(attempt-1, maxBackoffExponent)

	d := float64(b.Base) * math.Pow(backoffMultiplier, float64(exp))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}

	delay := time.Duration(d)
	if b.Jitter > 0 {
		delay += time.Duration(rand.Int64N(int64(b.Jitter)))
	}
	return delay
}

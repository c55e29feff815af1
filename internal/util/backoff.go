package util

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential reconnect delays. It is used for transport
// reconnects only; transactions and proof requests are never retried.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the +/- fraction applied to each delay (0.0 - 1.0).
	Jitter float64
}

// DefaultBackoff matches the websocket reconnect schedule: 2s doubling to 60s.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       2 * time.Second,
		Max:        60 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// Delay returns the wait before the given attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := b.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := float64(b.Base) * math.Pow(multiplier, float64(attempt-1))

	if b.Jitter > 0 {
		jitterRange := delay * b.Jitter
		delay = delay - jitterRange + (rand.Float64() * 2 * jitterRange)
	}

	if b.Max > 0 && time.Duration(delay) > b.Max {
		delay = float64(b.Max)
	}
	return time.Duration(delay)
}

// SleepContext waits for d or until ctx is done. It reports false if ctx ended first.
func SleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

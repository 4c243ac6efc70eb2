package stream

import (
	"math/rand"
	"time"
)

// BackoffConfig contains the reconnect retry schedule
type BackoffConfig struct {
	MaxRetries   int           // attempts before the connection is declared Failed (default: 5)
	InitialDelay time.Duration // first retry delay (default: 1 second)
	MaxDelay     time.Duration // retry delay cap (default: 16 seconds)
	Jitter       float64       // random spread fraction, 0.2 = ±20%
}

// DefaultBackoffConfig returns the default reconnect schedule:
// 1s, 2s, 4s, 8s, 16s, then Failed.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		MaxRetries:   5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Jitter:       0.2,
	}
}

// Delay computes the backoff delay for a given attempt (1-based).
//
// Formula: delay = InitialDelay * 2^(attempt-1), capped at MaxDelay,
// then jittered by ±Jitter so that multiple slots reconnecting to the
// same endpoint do not synchronize into a storm.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	// Shift amounts beyond 30 would overflow for any sane InitialDelay;
	// the cap makes the exact value irrelevant past that point.
	shift := uint(attempt - 1)
	if shift > 30 {
		shift = 30
	}
	delay := c.InitialDelay * time.Duration(1<<shift)
	if delay > c.MaxDelay || delay <= 0 {
		delay = c.MaxDelay
	}

	if c.Jitter > 0 {
		spread := float64(delay) * c.Jitter
		delay = time.Duration(float64(delay) - spread + rand.Float64()*2*spread)
	}

	return delay
}

package liveclient

import (
	"context"
	"math/rand"
	"time"
)

// Backoff is a capped exponential retry policy.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
	// Jitter is the fraction (0..1) of each delay that is randomised.
	Jitter float64
}

// ReconnectBackoff is the channel's default: 10 attempts, 2s doubling to 10s.
var ReconnectBackoff = Backoff{Base: 2 * time.Second, Max: 10 * time.Second, MaxAttempts: 10, Jitter: 0.5}

// RequestBackoff is the REST client's default.
var RequestBackoff = Backoff{Base: 500 * time.Millisecond, Max: 5 * time.Second, MaxAttempts: 3, Jitter: 0.2}

// Delay returns the wait before retry number attempt (0-based), without jitter.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for i := 0; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// jittered spreads d by ±Jitter/2.
func (b Backoff) jittered(attempt int) time.Duration {
	d := b.Delay(attempt)
	if b.Jitter <= 0 || d <= 0 {
		return d
	}
	spread := time.Duration(float64(d) * b.Jitter)
	if spread <= 0 {
		return d
	}
	return d - spread/2 + time.Duration(rand.Int63n(int64(spread)))
}

// wait sleeps for the attempt's delay or until ctx is done.
func (b Backoff) wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(b.jittered(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

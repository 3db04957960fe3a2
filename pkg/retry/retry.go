package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy is a bounded exponential backoff schedule.
// A zero MaxAttempts means "never retry".
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the fraction of each delay that is randomised, in [0, 1].
	Jitter float64
}

// DefaultPolicy mirrors the client defaults for reconnecting push channels.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		Jitter:          0.2,
	}
}

// Allows reports whether retry number attempt (1-based) is permitted.
func (p Policy) Allows(attempt int) bool {
	return attempt >= 1 && attempt <= p.MaxAttempts
}

// Delay returns the wait before retry number attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(p.InitialInterval)
	for i := 1; i < attempt; i++ {
		delay *= multiplier
		if p.MaxInterval > 0 && delay >= float64(p.MaxInterval) {
			delay = float64(p.MaxInterval)
			break
		}
	}

	if p.Jitter > 0 {
		spread := delay * p.Jitter
		delay = delay - spread + rand.Float64()*2*spread
	}
	if p.MaxInterval > 0 && delay > float64(p.MaxInterval) {
		delay = float64(p.MaxInterval)
	}
	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// Wait sleeps for the delay of attempt or returns early when ctx is done.
func (p Policy) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.Delay(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

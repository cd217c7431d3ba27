// internal/ratelimit/ramp.go
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ColdFactor divides the steady-state rate to get the rate granted on the
// first acquire of a ramping limiter.
const ColdFactor = 3

// Limiter hands out evaluation permits to workers.
type Limiter interface {
	// Acquire blocks until a permit is available or ctx is done.
	Acquire(ctx context.Context) error
}

// Unlimited never blocks.
type Unlimited struct{}

// Acquire returns immediately.
func (Unlimited) Acquire(context.Context) error { return nil }

// RampingLimiter issues permits at a steady rate, optionally ramping linearly
// from rate/ColdFactor up to the steady rate over a window that starts at the
// first Acquire call.
type RampingLimiter struct {
	limiter *rate.Limiter
	steady  float64
	rampUp  time.Duration
	now     func() time.Time

	mu      sync.Mutex
	started time.Time
	ramped  bool
}

// NewRampingLimiter creates a limiter granting perSecond permits per second.
// A zero rampUp grants the steady rate immediately.
func NewRampingLimiter(perSecond float64, rampUp time.Duration) *RampingLimiter {
	rl := &RampingLimiter{
		steady: perSecond,
		rampUp: rampUp,
		now:    time.Now,
		ramped: rampUp <= 0,
	}

	initial := perSecond
	if !rl.ramped {
		initial = perSecond / ColdFactor
	}
	rl.limiter = rate.NewLimiter(rate.Limit(initial), 1)
	return rl
}

// New returns Unlimited for perSecond <= 0 and a RampingLimiter otherwise.
func New(perSecond float64, rampUp time.Duration) Limiter {
	if perSecond <= 0 {
		return Unlimited{}
	}
	return NewRampingLimiter(perSecond, rampUp)
}

// Acquire waits for one permit.
func (rl *RampingLimiter) Acquire(ctx context.Context) error {
	rl.adjust()
	return rl.limiter.Wait(ctx)
}

// Rate returns the rate currently granted.
func (rl *RampingLimiter) Rate() float64 {
	return float64(rl.limiter.Limit())
}

// adjust moves the granted rate along the ramp.
func (rl *RampingLimiter) adjust() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.ramped {
		return
	}

	now := rl.now()
	if rl.started.IsZero() {
		rl.started = now
		return
	}

	elapsed := now.Sub(rl.started)
	if elapsed >= rl.rampUp {
		rl.limiter.SetLimitAt(now, rate.Limit(rl.steady))
		rl.ramped = true
		return
	}

	cold := rl.steady / ColdFactor
	progress := float64(elapsed) / float64(rl.rampUp)
	rl.limiter.SetLimitAt(now, rate.Limit(cold+(rl.steady-cold)*progress))
}

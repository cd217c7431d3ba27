// internal/ratelimit/ramp_test.go
package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("non-positive rate is unlimited", func(t *testing.T) {
		assert.IsType(t, Unlimited{}, New(-1, 0))
		assert.IsType(t, Unlimited{}, New(0, time.Second))
	})

	t.Run("positive rate ramps", func(t *testing.T) {
		assert.IsType(t, &RampingLimiter{}, New(100, 0))
	})
}

func TestUnlimited_NeverBlocks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, Unlimited{}.Acquire(ctx))
}

func TestRampingLimiter_SteadyRate(t *testing.T) {
	rl := NewRampingLimiter(200, 0)
	assert.Equal(t, 200.0, rl.Rate())

	start := time.Now()
	for i := 0; i < 21; i++ {
		require.NoError(t, rl.Acquire(context.Background()))
	}
	// 20 spaced permits at 200/s take ~100ms after the first
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestRampingLimiter_RampsLinearly(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	current := base

	rl := NewRampingLimiter(300, time.Second)
	rl.now = func() time.Time { return current }

	assert.InDelta(t, 100.0, rl.Rate(), 1e-9, "starts at the cold rate")

	rl.adjust() // first acquire starts the window
	assert.InDelta(t, 100.0, rl.Rate(), 1e-9)

	current = base.Add(500 * time.Millisecond)
	rl.adjust()
	assert.InDelta(t, 200.0, rl.Rate(), 1e-6, "halfway through the window")

	current = base.Add(time.Second)
	rl.adjust()
	assert.InDelta(t, 300.0, rl.Rate(), 1e-9, "steady after the window")

	current = base.Add(10 * time.Second)
	rl.adjust()
	assert.InDelta(t, 300.0, rl.Rate(), 1e-9)
}

func TestRampingLimiter_CancelledContext(t *testing.T) {
	rl := NewRampingLimiter(1, 0)
	require.NoError(t, rl.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Acquire(ctx))
}

func TestRampingLimiter_ConcurrentAcquire(t *testing.T) {
	rl := NewRampingLimiter(1000, 50*time.Millisecond)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				assert.NoError(t, rl.Acquire(context.Background()))
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, rl.Rate(), 1000.0)
}

package loadtest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FairForge/microperf/internal/faults"
	"github.com/FairForge/microperf/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingLimiter struct {
	calls atomic.Int64
}

func (l *countingLimiter) Acquire(context.Context) error {
	l.calls.Add(1)
	return nil
}

type transientError struct{}

func (transientError) Error() string { return "transient" }

func newTestRun(policy *faults.Policy) (*run, *countingLimiter) {
	limiter := &countingLimiter{}
	return newRun(stats.NewAccumulator(), limiter, policy, zap.NewNop()), limiter
}

// stopAfter returns an operation that fails every second call with err and
// terminates the run on call n.
func stopAfter(r *run, n int64, err error) (Func, *atomic.Int64) {
	var calls atomic.Int64
	return func(context.Context) error {
		c := calls.Add(1)
		if c >= n {
			r.terminate()
		}
		if c%2 == 0 {
			return err
		}
		return nil
	}, &calls
}

func TestWorker_AcquiresOncePerIteration(t *testing.T) {
	r, limiter := newTestRun(faults.NewPolicy())
	op, calls := stopAfter(r, 25, nil)

	w := newWorker(0, op, r)
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, int64(25), calls.Load())
	assert.Equal(t, int64(25), limiter.calls.Load())
	assert.Equal(t, int64(25), w.Iterations())
}

func TestWorker_OrdinaryFaultsAreCounted(t *testing.T) {
	r, _ := newTestRun(faults.NewPolicy())
	op, _ := stopAfter(r, 10, transientError{})

	require.NoError(t, newWorker(0, op, r).Run(context.Background()))

	assert.Equal(t, int64(10), r.acc.EvaluationCount())
	assert.Equal(t, int64(5), r.acc.ErrorCount())
	assert.Equal(t, 10, r.acc.SampleCount(), "failed calls are timed too")
}

func TestWorker_IgnorableFaultsAreNotCounted(t *testing.T) {
	policy := faults.NewPolicy()
	policy.Ignore(transientError{})
	r, limiter := newTestRun(policy)
	op, _ := stopAfter(r, 10, transientError{})

	require.NoError(t, newWorker(0, op, r).Run(context.Background()))

	assert.Equal(t, int64(10), limiter.calls.Load())
	// Ignorable faults are dropped entirely: no evaluation, no error, no sample.
	assert.Equal(t, int64(5), r.acc.EvaluationCount())
	assert.Equal(t, int64(0), r.acc.ErrorCount())
	assert.Equal(t, 5, r.acc.SampleCount())
}

func TestWorker_AbortPropagates(t *testing.T) {
	r, _ := newTestRun(faults.DefaultPolicy())
	var calls atomic.Int64
	op := Func(func(context.Context) error {
		if calls.Add(1) == 3 {
			return faults.Skip("backend unavailable")
		}
		return nil
	})

	err := newWorker(0, op, r).Run(context.Background())

	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
	var skip *faults.SkipError
	assert.ErrorAs(t, abortErr.Cause, &skip)
	assert.Equal(t, "backend unavailable", skip.Reason)
	assert.Equal(t, int64(2), r.acc.EvaluationCount())
}

func TestWorker_SetupAndTeardownFaults(t *testing.T) {
	boom := errors.New("db down")

	t.Run("setup fault is fatal", func(t *testing.T) {
		r, _ := newTestRun(faults.NewPolicy())
		var evaluated atomic.Int64
		op := Hooks{
			SetupFunc:    func(context.Context) error { return boom },
			EvaluateFunc: func(context.Context) error { evaluated.Add(1); return nil },
		}

		err := newWorker(0, op, r).Run(context.Background())
		assert.ErrorIs(t, err, ErrSetupFailed)
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, evaluated.Load())
		assert.Zero(t, r.acc.EvaluationCount())
	})

	t.Run("teardown fault is fatal after recording", func(t *testing.T) {
		r, _ := newTestRun(faults.NewPolicy())
		op := Hooks{TeardownFunc: func(context.Context) error { return boom }}

		err := newWorker(0, op, r).Run(context.Background())
		assert.ErrorIs(t, err, ErrTeardownFailed)
		assert.Equal(t, int64(1), r.acc.EvaluationCount())
	})

	t.Run("ignorable setup fault skips the iteration", func(t *testing.T) {
		policy := faults.NewPolicy()
		policy.IgnoreSentinel(boom)
		r, _ := newTestRun(policy)
		var setups, evaluated atomic.Int64
		op := Hooks{
			SetupFunc: func(context.Context) error {
				if setups.Add(1) >= 4 {
					r.terminate()
				}
				return boom
			},
			EvaluateFunc: func(context.Context) error { evaluated.Add(1); return nil },
		}

		require.NoError(t, newWorker(0, op, r).Run(context.Background()))
		assert.Equal(t, int64(4), setups.Load())
		assert.Zero(t, evaluated.Load())
	})

	t.Run("abort in teardown", func(t *testing.T) {
		r, _ := newTestRun(faults.DefaultPolicy())
		op := Hooks{TeardownFunc: func(context.Context) error { return faults.Skip("done") }}

		var abortErr *AbortError
		assert.ErrorAs(t, newWorker(0, op, r).Run(context.Background()), &abortErr)
	})
}

func TestWorker_WarmUpDiscardsResults(t *testing.T) {
	r, _ := newTestRun(faults.DefaultPolicy())
	r.warmUp = time.Hour
	op, calls := stopAfter(r, 6, transientError{})

	require.NoError(t, newWorker(0, op, r).Run(context.Background()))
	assert.Equal(t, int64(6), calls.Load())
	assert.Zero(t, r.acc.EvaluationCount())
	assert.Zero(t, r.acc.ErrorCount())

	t.Run("abort still escapes", func(t *testing.T) {
		r, _ := newTestRun(faults.DefaultPolicy())
		r.warmUp = time.Hour
		op := Func(func(context.Context) error { return faults.Skip("not today") })

		var abortErr *AbortError
		assert.ErrorAs(t, newWorker(0, op, r).Run(context.Background()), &abortErr)
	})
}

func TestWorker_WarmUpWindowFromLoopStart(t *testing.T) {
	r, _ := newTestRun(faults.NewPolicy())
	r.warmUp = 30 * time.Millisecond

	clock := time.Unix(1700000000, 0)
	var mu sync.Mutex
	var calls int
	op := Func(func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		clock = clock.Add(10 * time.Millisecond)
		if calls == 6 {
			r.terminate()
		}
		return nil
	})

	w := newWorker(0, op, r)
	w.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	require.NoError(t, w.Run(context.Background()))

	// calls 1-3 start at +0, +10ms, +20ms and fall inside the window
	assert.Equal(t, int64(3), r.acc.EvaluationCount())
	assert.Equal(t, 10*time.Millisecond, r.acc.MaxLatency())
}

func TestWorker_TargetStopsBeforeRecording(t *testing.T) {
	r, _ := newTestRun(faults.NewPolicy())
	r.target = 5
	var calls atomic.Int64
	op := Func(func(context.Context) error {
		calls.Add(1)
		return nil
	})

	require.NoError(t, newWorker(0, op, r).Run(context.Background()))
	assert.Equal(t, int64(5), r.acc.EvaluationCount())
	assert.Equal(t, int64(5), calls.Load())
	assert.True(t, r.terminated.Load())
}

func TestWorker_InterruptedCallsAreNotRecorded(t *testing.T) {
	r, _ := newTestRun(faults.NewPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	op := Func(func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})

	require.NoError(t, newWorker(0, op, r).Run(ctx))
	assert.Zero(t, r.acc.EvaluationCount())
	assert.Zero(t, r.acc.ErrorCount())
}

func TestWorker_Async(t *testing.T) {
	t.Run("completions record outcomes", func(t *testing.T) {
		r, _ := newTestRun(faults.NewPolicy())
		r.async = true
		var calls atomic.Int64
		op := AsyncFunc(func(_ context.Context, done Completion) error {
			c := calls.Add(1)
			if c >= 10 {
				r.terminate()
			}
			if c%2 == 0 {
				done.Fail(transientError{})
			} else {
				done.Success()
			}
			done.Success()
			return nil
		})

		require.NoError(t, newWorker(0, op, r).Run(context.Background()))
		assert.Equal(t, int64(10), r.acc.EvaluationCount())
		assert.Equal(t, int64(5), r.acc.ErrorCount())
	})

	t.Run("completions from other goroutines", func(t *testing.T) {
		r, _ := newTestRun(faults.NewPolicy())
		r.async = true
		var wg sync.WaitGroup
		var calls atomic.Int64
		op := AsyncFunc(func(_ context.Context, done Completion) error {
			if calls.Add(1) >= 20 {
				r.terminate()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				time.Sleep(time.Millisecond)
				done.Success()
			}()
			return nil
		})

		require.NoError(t, newWorker(0, op, r).Run(context.Background()))
		wg.Wait()
		assert.Equal(t, int64(20), r.acc.EvaluationCount())
		assert.GreaterOrEqual(t, r.acc.MinLatency(), time.Millisecond)
	})

	t.Run("warm-up hands out no-op completions", func(t *testing.T) {
		r, _ := newTestRun(faults.NewPolicy())
		r.async = true
		r.warmUp = time.Hour
		var handed []Completion
		op := AsyncFunc(func(_ context.Context, done Completion) error {
			handed = append(handed, done)
			if len(handed) == 3 {
				r.terminate()
			}
			done.Success()
			return nil
		})

		require.NoError(t, newWorker(0, op, r).Run(context.Background()))
		require.Len(t, handed, 3)
		for _, c := range handed {
			assert.IsType(t, NoopCompletion{}, c)
		}
		assert.Zero(t, r.acc.EvaluationCount())
	})

	t.Run("abort through completion stops the run", func(t *testing.T) {
		r, _ := newTestRun(faults.DefaultPolicy())
		r.async = true
		op := AsyncFunc(func(_ context.Context, done Completion) error {
			done.Fail(faults.Skip("quota exhausted"))
			return nil
		})

		require.NoError(t, newWorker(0, op, r).Run(context.Background()))
		var abortErr *AbortError
		assert.ErrorAs(t, r.fatal(), &abortErr)
		assert.True(t, r.terminated.Load())
	})

	t.Run("synchronous error is a failure", func(t *testing.T) {
		r, _ := newTestRun(faults.NewPolicy())
		r.async = true
		op := AsyncFunc(func(context.Context, Completion) error {
			r.terminate()
			return errors.New("queue full")
		})

		require.NoError(t, newWorker(0, op, r).Run(context.Background()))
		assert.Equal(t, int64(1), r.acc.ErrorCount())
	})
}

func TestAsyncFunc_EvaluateBlocks(t *testing.T) {
	boom := errors.New("boom")
	op := AsyncFunc(func(_ context.Context, done Completion) error {
		go done.Fail(boom)
		return nil
	})
	assert.ErrorIs(t, op.Evaluate(context.Background()), boom)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	never := AsyncFunc(func(context.Context, Completion) error { return nil })
	assert.ErrorIs(t, never.Evaluate(ctx), context.DeadlineExceeded)
}

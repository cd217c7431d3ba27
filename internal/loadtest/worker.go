package loadtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FairForge/microperf/internal/faults"
	"github.com/FairForge/microperf/internal/ratelimit"
	"github.com/FairForge/microperf/internal/stats"
	"go.uber.org/zap"
)

// run is the state shared by every worker of one Statement.Run.
type run struct {
	acc     *stats.Accumulator
	limiter ratelimit.Limiter
	policy  *faults.Policy
	logger  *zap.Logger

	warmUp time.Duration
	target int64
	async  bool

	terminated atomic.Bool
	stopped    chan struct{}
	stopOnce   sync.Once

	mu      sync.Mutex
	failure error
	cancel  context.CancelFunc
}

func newRun(acc *stats.Accumulator, limiter ratelimit.Limiter, policy *faults.Policy, logger *zap.Logger) *run {
	return &run{
		acc:     acc,
		limiter: limiter,
		policy:  policy,
		logger:  logger,
		stopped: make(chan struct{}),
		cancel:  func() {},
	}
}

// terminate signals every worker to exit after its current iteration.
func (r *run) terminate() {
	r.stopOnce.Do(func() {
		r.terminated.Store(true)
		close(r.stopped)
	})
}

// fail records the first fatal error raised outside a worker goroutine and
// stops the run.
func (r *run) fail(err error) {
	r.mu.Lock()
	if r.failure == nil {
		r.failure = err
	}
	r.mu.Unlock()
	r.terminate()
	r.cancel()
}

func (r *run) fatal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

func (r *run) record(elapsed time.Duration, failed bool) {
	if r.target > 0 && r.acc.EvaluationCount() >= r.target {
		r.terminate()
		return
	}
	r.acc.RecordLatency(elapsed)
	if failed {
		r.acc.IncrementErrorCount()
	}
	r.acc.IncrementEvaluationCount()
	if r.target > 0 && r.acc.EvaluationCount() >= r.target {
		r.terminate()
	}
}

// Worker drives one goroutine's evaluation loop.
type Worker struct {
	id  int
	op  Operation
	run *run
	now func() time.Time

	iterations int64
}

func newWorker(id int, op Operation, r *run) *Worker {
	return &Worker{id: id, op: op, run: r, now: time.Now}
}

// ID returns the worker index within its run.
func (w *Worker) ID() int { return w.id }

// Iterations returns how many loop iterations the worker finished.
func (w *Worker) Iterations() int64 { return w.iterations }

// Run loops until termination is signaled or ctx is cancelled. Each iteration
// acquires one permit from the limiter. It returns only fatal errors.
func (w *Worker) Run(ctx context.Context) error {
	logger := w.run.logger.With(zap.Int("worker", w.id))
	logger.Debug("worker started")
	defer func() {
		logger.Debug("worker stopped", zap.Int64("iterations", w.iterations))
	}()

	warmUpUntil := w.now().Add(w.run.warmUp)
	for !w.run.terminated.Load() {
		if ctx.Err() != nil {
			return nil
		}
		if err := w.run.limiter.Acquire(ctx); err != nil {
			if w.stopping(ctx) {
				return nil
			}
			return fmt.Errorf("loadtest: acquire permit: %w", err)
		}

		var err error
		if w.now().Before(warmUpUntil) {
			err = w.warmUpIteration(ctx)
		} else {
			err = w.measuredIteration(ctx)
		}
		w.iterations++
		if err != nil {
			logger.Debug("worker failed", zap.Error(err))
			return err
		}
	}
	return nil
}

// warmUpIteration runs the operation without recording anything. Only abort
// faults escape.
func (w *Worker) warmUpIteration(ctx context.Context) error {
	steps := []func(context.Context) error{w.op.Setup, w.warmUpEvaluate, w.op.Teardown}
	for _, step := range steps {
		if err := step(ctx); err != nil && w.run.policy.Classify(err) == faults.Abort {
			return &AbortError{Cause: err}
		}
	}
	return nil
}

func (w *Worker) warmUpEvaluate(ctx context.Context) error {
	if aop, ok := w.op.(AsyncOperation); ok && w.run.async {
		return aop.EvaluateAsync(ctx, NoopCompletion{})
	}
	return w.op.Evaluate(ctx)
}

func (w *Worker) measuredIteration(ctx context.Context) error {
	if err := w.op.Setup(ctx); err != nil {
		return w.hookError(ctx, err, ErrSetupFailed)
	}

	if w.run.async {
		if err := w.evaluateAsync(ctx); err != nil {
			return err
		}
	} else if err := w.evaluate(ctx); err != nil {
		return err
	}

	if err := w.op.Teardown(ctx); err != nil {
		return w.hookError(ctx, err, ErrTeardownFailed)
	}
	return nil
}

// hookError maps a setup or teardown fault onto the run outcome. Ignorable
// faults end the iteration quietly; anything else is fatal.
func (w *Worker) hookError(ctx context.Context, err, kind error) error {
	switch w.run.policy.Classify(err) {
	case faults.Abort:
		return &AbortError{Cause: err}
	case faults.Ignorable:
		return nil
	}
	if w.interrupted(ctx, err) {
		return nil
	}
	return fmt.Errorf("%w: %w", kind, err)
}

func (w *Worker) evaluate(ctx context.Context) error {
	start := w.now()
	err := w.op.Evaluate(ctx)
	elapsed := w.now().Sub(start)
	if err == nil {
		w.run.record(elapsed, false)
		return nil
	}

	switch w.run.policy.Classify(err) {
	case faults.Abort:
		return &AbortError{Cause: err}
	case faults.Ignorable:
		return nil
	}
	if !w.interrupted(ctx, err) {
		w.run.record(elapsed, true)
	}
	return nil
}

func (w *Worker) evaluateAsync(ctx context.Context) error {
	aop := w.op.(AsyncOperation)
	done := &recordingCompletion{run: w.run, ctx: ctx, start: w.now(), now: w.now}
	err := aop.EvaluateAsync(ctx, done)
	if err != nil && w.run.policy.Classify(err) == faults.Abort {
		return &AbortError{Cause: err}
	}
	if err != nil {
		done.Fail(err)
	}
	return nil
}

// interrupted reports whether err is the operation observing the run being
// stopped rather than a genuine failure.
func (w *Worker) interrupted(ctx context.Context, err error) bool {
	return w.stopping(ctx) && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func (w *Worker) stopping(ctx context.Context) bool {
	return w.run.terminated.Load() || ctx.Err() != nil
}

// recordingCompletion writes straight into the shared accumulator when the
// asynchronous work reports back.
type recordingCompletion struct {
	once  sync.Once
	run   *run
	ctx   context.Context
	start time.Time
	now   func() time.Time
}

func (c *recordingCompletion) Success() {
	c.once.Do(func() {
		c.run.record(c.now().Sub(c.start), false)
	})
}

func (c *recordingCompletion) Fail(err error) {
	c.once.Do(func() {
		elapsed := c.now().Sub(c.start)
		switch c.run.policy.Classify(err) {
		case faults.Abort:
			c.run.fail(&AbortError{Cause: err})
			return
		case faults.Ignorable:
			return
		}
		if (c.run.terminated.Load() || c.ctx.Err() != nil) &&
			(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return
		}
		c.run.record(elapsed, true)
	})
}

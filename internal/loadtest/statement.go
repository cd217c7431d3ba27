package loadtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FairForge/microperf/internal/config"
	"github.com/FairForge/microperf/internal/evaluation"
	"github.com/FairForge/microperf/internal/faults"
	"github.com/FairForge/microperf/internal/logging"
	"github.com/FairForge/microperf/internal/ratelimit"
	"github.com/FairForge/microperf/internal/stats"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Listener is invoked exactly once when a run finishes, whatever the outcome.
// The evaluation context carries the results.
type Listener func()

// Option configures a Statement.
type Option func(*Statement)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Statement) { s.logger = logging.OrNop(logger) }
}

// WithPolicy sets the fault policy used to classify operation errors.
func WithPolicy(policy *faults.Policy) Option {
	return func(s *Statement) { s.policy = policy }
}

// WithLimiter replaces the limiter derived from the configured rate.
func WithLimiter(limiter ratelimit.Limiter) Option {
	return func(s *Statement) { s.limiter = limiter }
}

// WithListener sets the completion listener.
func WithListener(listener Listener) Option {
	return func(s *Statement) { s.listener = listener }
}

// WithAccumulator shares an accumulator across runs. Its contents are replaced
// by each run's samples when that run stops.
func WithAccumulator(acc *stats.Accumulator) Option {
	return func(s *Statement) { s.acc = acc }
}

// Statement runs one operation under load and validates the result against
// the requirements loaded into its evaluation context.
type Statement struct {
	ectx     *evaluation.Context
	op       Operation
	acc      *stats.Accumulator
	limiter  ratelimit.Limiter
	policy   *faults.Policy
	listener Listener
	logger   *zap.Logger
}

// NewStatement binds op to an evaluation context whose configuration is
// already loaded.
func NewStatement(ectx *evaluation.Context, op Operation, opts ...Option) (*Statement, error) {
	if ectx == nil {
		return nil, fmt.Errorf("%w: evaluation context is required", config.ErrInvalidConfig)
	}
	if !ectx.ConfigLoaded() {
		return nil, evaluation.ErrConfigurationMissing
	}
	if op == nil {
		return nil, fmt.Errorf("%w: operation is required", config.ErrInvalidConfig)
	}
	if _, ok := op.(AsyncOperation); ectx.Config().Async && !ok {
		return nil, fmt.Errorf("%w: async evaluation needs an asynchronous operation", config.ErrInvalidConfig)
	}

	s := &Statement{
		ectx:   ectx,
		op:     op,
		acc:    stats.NewAccumulator(),
		policy: faults.NewPolicy(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy == nil {
		s.policy = faults.NewPolicy()
	}
	return s, nil
}

// Context returns the evaluation context the statement populates.
func (s *Statement) Context() *evaluation.Context { return s.ectx }

// Accumulator returns the accumulator holding the last run's samples.
func (s *Statement) Accumulator() *stats.Accumulator { return s.acc }

// Run spawns the workers, waits for the stop condition and validates the
// outcome. It returns *AbortError when a worker aborted the run,
// *RequirementsNotMetError when validation failed, or a setup or teardown
// error. The listener has always been notified by the time Run returns.
func (s *Statement) Run(ctx context.Context) error {
	cfg := s.ectx.Config()
	logger := s.logger.With(
		zap.String("evaluation", s.ectx.Name),
		zap.String("run_id", s.ectx.ID),
	)

	limiter := s.limiter
	if limiter == nil {
		limiter = ratelimit.New(float64(cfg.RateLimit), cfg.RampUp)
	}

	// Workers record into a run-scoped sink; stragglers left behind after the
	// stop grace can never reach s.acc once it is replaced below.
	sink := stats.NewAccumulator()
	r := newRun(sink, limiter, s.policy, logger)
	r.warmUp = cfg.WarmUp
	r.target = cfg.TotalExecutions
	r.async = cfg.Async

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.cancel = cancel

	logger.Info("run started",
		zap.Int("threads", cfg.Threads),
		zap.Duration("duration", cfg.Duration),
		zap.Duration("warm_up", cfg.WarmUp),
		zap.Int("rate_limit", cfg.RateLimit),
		zap.Int64("total_executions", cfg.TotalExecutions),
		zap.Bool("async", cfg.Async),
	)

	g, gctx := errgroup.WithContext(runCtx)
	s.ectx.MarkStarted(time.Now())
	for i := 0; i < cfg.Threads; i++ {
		w := newWorker(i, s.op, r)
		g.Go(func() error { return w.Run(gctx) })
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	// Duration also bounds target mode, where the count usually stops first.
	timer := time.NewTimer(cfg.Duration)
	defer timer.Stop()

	var (
		err      error
		finished bool
	)
	select {
	case <-timer.C:
	case <-r.stopped:
	case err = <-done:
		finished = true
	case <-ctx.Done():
	}

	r.terminate()
	cancel()
	if !finished {
		err = s.awaitWorkers(done, cfg.StopGrace, logger)
	}
	s.ectx.MarkFinished(time.Now())
	s.acc.ReplaceWith(sink)

	if err == nil {
		err = r.fatal()
	}
	if err == nil && ctx.Err() != nil {
		err = &AbortError{Cause: ctx.Err()}
	}
	if err != nil {
		return s.abort(err, logger)
	}

	s.ectx.SetStatistics(s.acc.Snapshot())
	if err := s.ectx.Validate(); err != nil {
		s.notify()
		return err
	}
	s.notify()

	results := s.ectx.Results()
	fields := []zap.Field{
		zap.Int64("count", results.EvaluationCount),
		zap.Int64("errors", results.ErrorCount),
		zap.Int64("throughput_qps", results.ThroughputQps),
		zap.Float64("mean_latency_ms", results.MeanLatencyMs),
	}
	if s.ectx.IsSuccessful() {
		logger.Info("run passed", fields...)
		return nil
	}

	failures := s.ectx.Failures()
	logger.Warn("requirements not met", append(fields, zap.Strings("failures", failures))...)
	return &RequirementsNotMetError{Evaluation: s.ectx.Name, Failures: failures}
}

// awaitWorkers waits for workers to finish their current iteration. With a
// positive grace it gives up after that long and leaves stragglers running.
func (s *Statement) awaitWorkers(done <-chan error, grace time.Duration, logger *zap.Logger) error {
	if grace <= 0 {
		return <-done
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		logger.Warn("workers still running after stop grace", zap.Duration("grace", grace))
		return nil
	}
}

func (s *Statement) abort(err error, logger *zap.Logger) error {
	cause := err
	var abortErr *AbortError
	if errors.As(err, &abortErr) {
		cause = abortErr.Cause
	}
	s.ectx.Abort(cause)
	s.notify()

	if errors.Is(err, ErrSetupFailed) || errors.Is(err, ErrTeardownFailed) {
		logger.Error("run failed", zap.Error(err))
	} else {
		logger.Warn("run aborted", zap.Error(err))
	}
	return err
}

func (s *Statement) notify() {
	if s.listener != nil {
		s.listener()
	}
}

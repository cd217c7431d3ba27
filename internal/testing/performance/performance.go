// Package performance runs load evaluations from Go tests.
//
//	func TestGetObject(t *testing.T) {
//		cfg := config.DefaultEvaluation()
//		cfg.Threads = 4
//		cfg.Duration = 2 * time.Second
//		cfg.WarmUp = 200 * time.Millisecond
//
//		req := config.DefaultRequirements()
//		req.ExecutionsPerSec = 500
//		req.Percentiles = config.ParsePercentiles("90:5,99:20")
//
//		performance.Evaluate(t, "get-object", cfg, &req, loadtest.Func(getObject))
//	}
package performance

import (
	"context"
	"errors"
	"testing"

	"github.com/FairForge/microperf/internal/config"
	"github.com/FairForge/microperf/internal/evaluation"
	"github.com/FairForge/microperf/internal/faults"
	"github.com/FairForge/microperf/internal/loadtest"
	"github.com/FairForge/microperf/internal/ratelimit"
	"github.com/FairForge/microperf/internal/reporting"
	"go.uber.org/zap"
)

type options struct {
	ctx       context.Context
	group     string
	policy    *faults.Policy
	logger    *zap.Logger
	limiter   ratelimit.Limiter
	env       config.LookupFunc
	collector *reporting.Collector
}

// Option customizes a single evaluation.
type Option func(*options)

// WithContext bounds the run by ctx.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// WithGroup sets the evaluation group used in reports.
func WithGroup(group string) Option {
	return func(o *options) { o.group = group }
}

// WithPolicy replaces the default policy, which aborts on faults.SkipError.
func WithPolicy(policy *faults.Policy) Option {
	return func(o *options) { o.policy = policy }
}

// WithLogger sets the run logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithLimiter overrides the limiter built from the configured rate.
func WithLimiter(limiter ratelimit.Limiter) Option {
	return func(o *options) { o.limiter = limiter }
}

// WithEnv replaces the process environment as the override source.
func WithEnv(lookup config.LookupFunc) Option {
	return func(o *options) { o.env = lookup }
}

// WithCollector adds the finished evaluation to c.
func WithCollector(c *reporting.Collector) Option {
	return func(o *options) { o.collector = c }
}

// Run loads cfg and req into a new evaluation context and runs op against
// it. The context is returned even when the run fails.
func Run(name string, cfg config.Evaluation, req *config.Requirements, op loadtest.Operation, opts ...Option) (*evaluation.Context, error) {
	o := options{
		ctx:    context.Background(),
		policy: faults.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	ectx := evaluation.NewContext(name, o.group)
	if o.env != nil {
		ectx.WithEnv(o.env)
	}
	if err := ectx.LoadConfiguration(cfg); err != nil {
		return ectx, err
	}
	if err := ectx.LoadRequirements(req); err != nil {
		return ectx, err
	}

	stmtOpts := []loadtest.Option{
		loadtest.WithPolicy(o.policy),
		loadtest.WithLogger(o.logger),
	}
	if o.limiter != nil {
		stmtOpts = append(stmtOpts, loadtest.WithLimiter(o.limiter))
	}
	if o.collector != nil {
		stmtOpts = append(stmtOpts, loadtest.WithListener(o.collector.Listener(ectx)))
	}

	stmt, err := loadtest.NewStatement(ectx, op, stmtOpts...)
	if err != nil {
		return ectx, err
	}
	return ectx, stmt.Run(o.ctx)
}

// Evaluate runs op under load and fails t when a requirement is missed or the
// run breaks. A faults.SkipError raised by the operation skips t instead.
func Evaluate(t testing.TB, name string, cfg config.Evaluation, req *config.Requirements, op loadtest.Operation, opts ...Option) *evaluation.Context {
	t.Helper()

	ectx, err := Run(name, cfg, req, op, opts...)
	if err == nil {
		return ectx
	}

	var skip *faults.SkipError
	if errors.As(err, &skip) {
		t.Skip(skip.Error())
		return ectx
	}

	var notMet *loadtest.RequirementsNotMetError
	if errors.As(err, &notMet) {
		t.Fatalf("%v\n%s", err, ectx.Summary())
		return ectx
	}
	t.Fatalf("evaluation %q: %v", name, err)
	return ectx
}

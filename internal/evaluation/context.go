// Package evaluation holds the configuration, requirements and results of a
// single evaluation run.
package evaluation

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/FairForge/microperf/internal/config"
	"github.com/FairForge/microperf/internal/stats"
	"github.com/google/uuid"
)

var (
	ErrConfigurationLoaded  = errors.New("evaluation: configuration already loaded")
	ErrConfigurationMissing = errors.New("evaluation: configuration not loaded")
	ErrNoStatistics         = errors.New("evaluation: validation requires a statistics snapshot")
)

// Context is the record of one evaluation run. Only the goroutine driving the
// run mutates it; once handed to a listener it is read-only.
type Context struct {
	ID         string
	Name       string
	Group      string
	StartedAt  time.Time
	FinishedAt time.Time

	config       config.Evaluation
	requirements *config.Requirements
	configLoaded bool
	lookupEnv    config.LookupFunc

	snapshot  *stats.Snapshot
	results   Results
	validated bool

	aborted    bool
	abortCause error
}

// NewContext creates an empty context for the named evaluation.
func NewContext(name, group string) *Context {
	return &Context{
		ID:        uuid.NewString(),
		Name:      name,
		Group:     group,
		lookupEnv: os.LookupEnv,
	}
}

// WithEnv replaces the environment lookup used by LoadConfiguration.
func (c *Context) WithEnv(lookup config.LookupFunc) *Context {
	c.lookupEnv = lookup
	return c
}

// LoadConfiguration applies environment overrides to cfg, validates it and
// stores it. It may be called once.
func (c *Context) LoadConfiguration(cfg config.Evaluation) error {
	if c.configLoaded {
		return ErrConfigurationLoaded
	}
	if c.lookupEnv != nil {
		if err := config.ApplyEnv(&cfg, c.lookupEnv); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.config = cfg
	c.configLoaded = true
	return nil
}

// LoadRequirements stores the requirements. A nil req means every run passes.
func (c *Context) LoadRequirements(req *config.Requirements) error {
	if !c.configLoaded {
		return ErrConfigurationMissing
	}
	if req == nil {
		c.requirements = nil
		return nil
	}
	if err := req.Validate(); err != nil {
		return err
	}

	copied := *req
	copied.Percentiles = make(map[int]float64, len(req.Percentiles))
	for p, ceiling := range req.Percentiles {
		if p >= stats.MinPercentile && p <= stats.MaxPercentile {
			copied.Percentiles[p] = ceiling
		}
	}
	c.requirements = &copied
	return nil
}

// ConfigLoaded reports whether LoadConfiguration succeeded.
func (c *Context) ConfigLoaded() bool { return c.configLoaded }

// Config returns the loaded configuration.
func (c *Context) Config() config.Evaluation { return c.config }

// Requirements returns the loaded requirements, nil when none were set.
func (c *Context) Requirements() *config.Requirements { return c.requirements }

// MarkStarted stamps the run start.
func (c *Context) MarkStarted(t time.Time) { c.StartedAt = t }

// MarkFinished stamps the run end.
func (c *Context) MarkFinished(t time.Time) { c.FinishedAt = t }

// Abort records that the run was aborted by cause.
func (c *Context) Abort(cause error) {
	c.aborted = true
	c.abortCause = cause
}

// Aborted reports whether the run was aborted.
func (c *Context) Aborted() bool { return c.aborted }

// AbortCause returns the fault that aborted the run.
func (c *Context) AbortCause() error { return c.abortCause }

// SetStatistics attaches the final statistics snapshot.
func (c *Context) SetStatistics(snap *stats.Snapshot) {
	c.snapshot = snap
	c.validated = false
}

// Statistics returns the attached snapshot.
func (c *Context) Statistics() *stats.Snapshot { return c.snapshot }

// Validated reports whether Validate has run.
func (c *Context) Validated() bool { return c.validated }

// Duration is the run length used for throughput: the configured duration,
// or the measured one when the run stops on an invocation target.
func (c *Context) Duration() time.Duration {
	if c.config.TotalExecutions > 0 && !c.StartedAt.IsZero() && !c.FinishedAt.IsZero() {
		return c.FinishedAt.Sub(c.StartedAt)
	}
	return c.config.Duration
}

// ThroughputQps returns count / ((durationMs - warmUpMs) / 1000), truncated.
// Errors and stragglers are not discounted.
func (c *Context) ThroughputQps() int64 {
	if c.snapshot == nil {
		return 0
	}
	return throughput(c.snapshot.EvaluationCount(), c.Duration(), c.config.WarmUp)
}

func throughput(count int64, duration, warmUp time.Duration) int64 {
	durationMs := float64(duration.Milliseconds())
	warmUpMs := float64(warmUp.Milliseconds())
	if durationMs-warmUpMs <= 0 {
		return 0
	}
	return int64(math.Floor(float64(count) / ((durationMs - warmUpMs) / 1000)))
}

// Validate evaluates every requirement against the attached snapshot.
func (c *Context) Validate() error {
	if c.snapshot == nil {
		return ErrNoStatistics
	}
	c.results = evaluate(c.snapshot, c.requirements, c.ThroughputQps())
	c.validated = true
	return nil
}

// Results returns the outcome of the last Validate.
func (c *Context) Results() Results { return c.results }

// IsSuccessful is the AND of every requirement category.
func (c *Context) IsSuccessful() bool { return c.validated && c.results.Successful }

// Failures names every unmet requirement.
func (c *Context) Failures() []string {
	if !c.validated {
		return nil
	}
	return c.results.Failures()
}

// Summary renders the validation outcome for humans.
func (c *Context) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Evaluation: %s", c.Name)
	if c.Group != "" {
		fmt.Fprintf(&sb, " (%s)", c.Group)
	}
	sb.WriteString("\n")

	switch {
	case c.aborted:
		fmt.Fprintf(&sb, "Status: ABORTED (%v)\n", c.abortCause)
		return sb.String()
	case !c.validated:
		sb.WriteString("Status: NOT VALIDATED\n")
		return sb.String()
	case c.results.Successful:
		sb.WriteString("Status: PASS\n")
	default:
		sb.WriteString("Status: FAIL\n")
	}

	r := c.results
	fmt.Fprintf(&sb, "Invocations: %d, errors: %d (%.2f%%)\n", r.EvaluationCount, r.ErrorCount, r.ErrorPercentage)
	fmt.Fprintf(&sb, "Throughput: %d/s\n", r.ThroughputQps)
	fmt.Fprintf(&sb, "Latency ms: min %.3f, mean %.3f, max %.3f\n", r.MinLatencyMs, r.MeanLatencyMs, r.MaxLatencyMs)
	for _, check := range r.Checks {
		sb.WriteString("  ")
		sb.WriteString(check.Message)
		sb.WriteString("\n")
	}
	return sb.String()
}

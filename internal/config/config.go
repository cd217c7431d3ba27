package config

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every configuration error.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Unlimited disables rate limiting.
const Unlimited = -1

// NoRequirement disables a latency requirement.
const NoRequirement = -1

// Evaluation configures one evaluation run.
type Evaluation struct {
	Threads         int           `yaml:"threads"`
	Duration        time.Duration `yaml:"duration"`
	WarmUp          time.Duration `yaml:"warm_up"`
	RateLimit       int           `yaml:"rate_limit"` // executions/sec, Unlimited or > 0
	RampUp          time.Duration `yaml:"ramp_up"`
	TotalExecutions int64         `yaml:"total_executions"` // 0 stops on Duration instead
	Async           bool          `yaml:"async"`
	StopGrace       time.Duration `yaml:"stop_grace"`
}

// DefaultEvaluation returns a single-threaded, unthrottled one second run.
func DefaultEvaluation() Evaluation {
	return Evaluation{
		Threads:   1,
		Duration:  time.Second,
		RateLimit: Unlimited,
		StopGrace: time.Second,
	}
}

// Validate checks the configuration.
func (c Evaluation) Validate() error {
	if c.Threads < 1 {
		return fmt.Errorf("%w: threads must be at least 1 (got %d)", ErrInvalidConfig, c.Threads)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive (got %v)", ErrInvalidConfig, c.Duration)
	}
	if c.WarmUp < 0 || c.WarmUp >= c.Duration {
		return fmt.Errorf("%w: warm-up must be in [0, %v) (got %v)", ErrInvalidConfig, c.Duration, c.WarmUp)
	}
	if c.RampUp < 0 || c.RampUp >= c.Duration {
		return fmt.Errorf("%w: ramp-up must be in [0, %v) (got %v)", ErrInvalidConfig, c.Duration, c.RampUp)
	}
	if c.RateLimit != Unlimited && c.RateLimit <= 0 {
		return fmt.Errorf("%w: rate limit must be %d or positive (got %d)", ErrInvalidConfig, Unlimited, c.RateLimit)
	}
	if c.TotalExecutions < 0 {
		return fmt.Errorf("%w: total executions must not be negative (got %d)", ErrInvalidConfig, c.TotalExecutions)
	}
	if c.StopGrace < 0 {
		return fmt.Errorf("%w: stop grace must not be negative (got %v)", ErrInvalidConfig, c.StopGrace)
	}
	return nil
}

// RateLimited reports whether a rate limit is configured.
func (c Evaluation) RateLimited() bool {
	return c.RateLimit != Unlimited
}

// UnmarshalYAML decodes on top of DefaultEvaluation.
func (c *Evaluation) UnmarshalYAML(value *yaml.Node) error {
	type plain Evaluation
	out := plain(DefaultEvaluation())
	if err := value.Decode(&out); err != nil {
		return err
	}
	*c = Evaluation(out)
	return nil
}

// Requirements are the thresholds an evaluation must meet. Latencies are in
// milliseconds; NoRequirement (any negative value) disables a latency check.
type Requirements struct {
	ExecutionsPerSec       float64         `yaml:"executions_per_sec"`
	AllowedErrorPercentage float64         `yaml:"allowed_error_percentage"`
	MinLatencyMs           float64         `yaml:"min_latency_ms"`
	MaxLatencyMs           float64         `yaml:"max_latency_ms"`
	MeanLatencyMs          float64         `yaml:"mean_latency_ms"`
	Percentiles            map[int]float64 `yaml:"-"`
}

// DefaultRequirements requires no throughput, no errors, and nothing on latency.
func DefaultRequirements() Requirements {
	return Requirements{
		MinLatencyMs:  NoRequirement,
		MaxLatencyMs:  NoRequirement,
		MeanLatencyMs: NoRequirement,
		Percentiles:   map[int]float64{},
	}
}

// Validate checks the requirements.
func (r Requirements) Validate() error {
	if r.ExecutionsPerSec < 0 {
		return fmt.Errorf("%w: required throughput must not be negative (got %v)", ErrInvalidConfig, r.ExecutionsPerSec)
	}
	if r.AllowedErrorPercentage < 0 {
		return fmt.Errorf("%w: allowed error percentage must not be negative (got %v)", ErrInvalidConfig, r.AllowedErrorPercentage)
	}
	return nil
}

// UnmarshalYAML decodes on top of DefaultRequirements. Percentiles may be
// given either as a "90:0.5,95:9" string or as a mapping.
func (r *Requirements) UnmarshalYAML(value *yaml.Node) error {
	type plain Requirements
	out := plain(DefaultRequirements())
	if err := value.Decode(&out); err != nil {
		return err
	}

	var raw struct {
		Percentiles yaml.Node `yaml:"percentiles"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	*r = Requirements(out)
	switch raw.Percentiles.Kind {
	case yaml.ScalarNode:
		r.Percentiles = ParsePercentiles(raw.Percentiles.Value)
	case yaml.MappingNode:
		r.Percentiles = ParsePercentiles(joinMapping(&raw.Percentiles))
	}
	return nil
}

func joinMapping(node *yaml.Node) string {
	var s string
	for i := 0; i+1 < len(node.Content); i += 2 {
		if s != "" {
			s += ","
		}
		s += node.Content[i].Value + ":" + node.Content[i+1].Value
	}
	return s
}

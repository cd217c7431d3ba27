package evaluation

import (
	"fmt"

	"github.com/FairForge/microperf/internal/config"
	"github.com/FairForge/microperf/internal/stats"
)

// Comparator defines how an achieved value is compared against its target.
type Comparator string

const (
	ComparatorLessOrEqual    Comparator = "<="
	ComparatorGreaterOrEqual Comparator = ">="
)

// Check is the outcome of one requirement.
type Check struct {
	Name       string
	Actual     float64
	Target     float64
	Comparator Comparator
	Achieved   bool
	Message    string
}

// PercentileResult compares one achieved percentile with its ceiling.
type PercentileResult struct {
	ActualMs  float64
	CeilingMs float64
	Achieved  bool
}

// Results are populated once per run by Context.Validate.
type Results struct {
	EvaluationCount int64
	ErrorCount      int64
	ErrorPercentage float64
	ThroughputQps   int64
	MinLatencyMs    float64
	MeanLatencyMs   float64
	MaxLatencyMs    float64
	Percentiles     map[int]PercentileResult

	ThroughputAchieved  bool
	ErrorRateAchieved   bool
	MinLatencyAchieved  bool
	MeanLatencyAchieved bool
	MaxLatencyAchieved  bool
	PercentilesAchieved bool
	Successful          bool

	Checks []Check
}

// Failures names every unmet requirement, in evaluation order.
func (r Results) Failures() []string {
	failed := make([]string, 0)
	for _, check := range r.Checks {
		if !check.Achieved {
			failed = append(failed, check.Name+" threshold not achieved")
		}
	}
	return failed
}

func evaluate(snap *stats.Snapshot, req *config.Requirements, throughputQps int64) Results {
	r := Results{
		EvaluationCount: snap.EvaluationCount(),
		ErrorCount:      snap.ErrorCount(),
		ErrorPercentage: snap.ErrorPercentage(),
		ThroughputQps:   throughputQps,
		MinLatencyMs:    stats.Millis(snap.MinLatency()),
		MeanLatencyMs:   stats.Millis(snap.MeanLatency()),
		MaxLatencyMs:    stats.Millis(snap.MaxLatency()),
		Percentiles:     make(map[int]PercentileResult),

		ThroughputAchieved:  true,
		ErrorRateAchieved:   true,
		MinLatencyAchieved:  true,
		MeanLatencyAchieved: true,
		MaxLatencyAchieved:  true,
		PercentilesAchieved: true,
	}

	if req != nil {
		r.ThroughputAchieved = r.check("throughput", float64(throughputQps), req.ExecutionsPerSec, ComparatorGreaterOrEqual)
		r.ErrorRateAchieved = r.check("error", r.ErrorPercentage, req.AllowedErrorPercentage, ComparatorLessOrEqual)
		if req.MinLatencyMs >= 0 {
			r.MinLatencyAchieved = r.check("min latency", r.MinLatencyMs, req.MinLatencyMs, ComparatorLessOrEqual)
		}
		if req.MeanLatencyMs >= 0 {
			r.MeanLatencyAchieved = r.check("mean latency", r.MeanLatencyMs, req.MeanLatencyMs, ComparatorLessOrEqual)
		}
		if req.MaxLatencyMs >= 0 {
			r.MaxLatencyAchieved = r.check("max latency", r.MaxLatencyMs, req.MaxLatencyMs, ComparatorLessOrEqual)
		}

		for _, p := range config.SortedPercentiles(req.Percentiles) {
			ceiling := req.Percentiles[p]
			actual := stats.Millis(snap.Percentile(p))
			achieved := r.check(ordinal(p)+" percentile", actual, ceiling, ComparatorLessOrEqual)
			r.Percentiles[p] = PercentileResult{ActualMs: actual, CeilingMs: ceiling, Achieved: achieved}
			r.PercentilesAchieved = r.PercentilesAchieved && achieved
		}
	}

	r.Successful = r.ThroughputAchieved && r.ErrorRateAchieved &&
		r.MinLatencyAchieved && r.MeanLatencyAchieved && r.MaxLatencyAchieved &&
		r.PercentilesAchieved
	return r
}

func (r *Results) check(name string, actual, target float64, comp Comparator) bool {
	var achieved bool
	switch comp {
	case ComparatorGreaterOrEqual:
		achieved = actual >= target
	default:
		achieved = actual <= target
	}

	c := Check{
		Name:       name,
		Actual:     actual,
		Target:     target,
		Comparator: comp,
		Achieved:   achieved,
	}
	if achieved {
		c.Message = fmt.Sprintf("%s: %.3f %s %.3f ✓", name, actual, comp, target)
	} else {
		c.Message = fmt.Sprintf("%s: %.3f %s %.3f ✗", name, actual, comp, target)
	}
	r.Checks = append(r.Checks, c)
	return achieved
}

func ordinal(n int) string {
	suffix := "th"
	switch {
	case n%100 >= 11 && n%100 <= 13:
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return fmt.Sprintf("%d%s", n, suffix)
}

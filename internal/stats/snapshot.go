package stats

import "time"

// Percentile bounds accepted by the accumulator.
const (
	MinPercentile = 1
	MaxPercentile = 100
)

// Snapshot is an immutable view of an Accumulator taken at one instant.
// All 100 integer percentiles are computed once so a validation pass can read
// any number of them without re-sorting.
type Snapshot struct {
	evaluations int64
	errors      int64
	samples     int
	min         time.Duration
	max         time.Duration
	mean        time.Duration
	percentiles [MaxPercentile + 1]time.Duration
}

func newSnapshot(evaluations, errs int64, sorted []time.Duration) *Snapshot {
	s := &Snapshot{
		evaluations: evaluations,
		errors:      errs,
		samples:     len(sorted),
		mean:        mean(sorted),
	}
	if len(sorted) > 0 {
		s.min = sorted[0]
		s.max = sorted[len(sorted)-1]
	}
	for p := MinPercentile; p <= MaxPercentile; p++ {
		s.percentiles[p] = percentile(sorted, float64(p))
	}
	return s
}

// EvaluationCount returns the number of evaluations at snapshot time.
func (s *Snapshot) EvaluationCount() int64 { return s.evaluations }

// ErrorCount returns the number of failed evaluations at snapshot time.
func (s *Snapshot) ErrorCount() int64 { return s.errors }

// ErrorPercentage returns errors/evaluations*100, or 0 with no evaluations.
func (s *Snapshot) ErrorPercentage() float64 { return errorPercentage(s.evaluations, s.errors) }

// SampleCount returns the number of latency samples captured.
func (s *Snapshot) SampleCount() int { return s.samples }

// MinLatency returns the smallest sample.
func (s *Snapshot) MinLatency() time.Duration { return s.min }

// MaxLatency returns the largest sample.
func (s *Snapshot) MaxLatency() time.Duration { return s.max }

// MeanLatency returns the mean sample.
func (s *Snapshot) MeanLatency() time.Duration { return s.mean }

// Percentile returns the cached p-th percentile; out-of-range p yields 0.
func (s *Snapshot) Percentile(p int) time.Duration {
	if p < MinPercentile || p > MaxPercentile {
		return 0
	}
	return s.percentiles[p]
}

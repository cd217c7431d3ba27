// Package stats accumulates per-evaluation outcomes from concurrent workers.
package stats

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Accumulator is a thread-safe sink for latency samples and invocation counters.
// Workers write to it concurrently; readers see exactly the samples recorded
// at the moment of the call.
type Accumulator struct {
	evaluations atomic.Int64
	errors      atomic.Int64

	mu        sync.RWMutex
	latencies []time.Duration
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		latencies: make([]time.Duration, 0, 10000),
	}
}

// RecordLatency adds one latency sample.
func (a *Accumulator) RecordLatency(d time.Duration) {
	a.mu.Lock()
	a.latencies = append(a.latencies, d)
	a.mu.Unlock()
}

// IncrementEvaluationCount counts one evaluation, successful or not.
func (a *Accumulator) IncrementEvaluationCount() {
	a.evaluations.Add(1)
}

// IncrementErrorCount counts one failed evaluation.
func (a *Accumulator) IncrementErrorCount() {
	a.errors.Add(1)
}

// Reset drops every sample and zeroes the counters.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.latencies = a.latencies[:0]
	a.evaluations.Store(0)
	a.errors.Store(0)
	a.mu.Unlock()
}

// ReplaceWith discards a's contents and copies in everything src has recorded
// so far. Later writes to src do not reach a.
func (a *Accumulator) ReplaceWith(src *Accumulator) {
	if a == src {
		return
	}
	src.mu.RLock()
	latencies := make([]time.Duration, len(src.latencies))
	copy(latencies, src.latencies)
	evaluations := src.evaluations.Load()
	errs := src.errors.Load()
	src.mu.RUnlock()

	a.mu.Lock()
	a.latencies = latencies
	a.evaluations.Store(evaluations)
	a.errors.Store(errs)
	a.mu.Unlock()
}

// EvaluationCount returns the number of evaluations recorded.
func (a *Accumulator) EvaluationCount() int64 {
	return a.evaluations.Load()
}

// ErrorCount returns the number of failed evaluations recorded.
func (a *Accumulator) ErrorCount() int64 {
	return a.errors.Load()
}

// ErrorPercentage returns errors/evaluations*100, or 0 with no evaluations.
func (a *Accumulator) ErrorPercentage() float64 {
	return errorPercentage(a.EvaluationCount(), a.ErrorCount())
}

// MinLatency returns the smallest recorded sample.
func (a *Accumulator) MinLatency() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.latencies) == 0 {
		return 0
	}
	min := a.latencies[0]
	for _, l := range a.latencies[1:] {
		if l < min {
			min = l
		}
	}
	return min
}

// MaxLatency returns the largest recorded sample.
func (a *Accumulator) MaxLatency() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var max time.Duration
	for _, l := range a.latencies {
		if l > max {
			max = l
		}
	}
	return max
}

// MeanLatency returns the arithmetic mean of the recorded samples.
func (a *Accumulator) MeanLatency() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return mean(a.latencies)
}

// SampleCount returns the number of latency samples held.
func (a *Accumulator) SampleCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.latencies)
}

// Percentile returns the p-th population percentile (1..100) of the samples.
// Each call sorts a copy of the samples; use Snapshot when many percentiles
// are needed.
func (a *Accumulator) Percentile(p int) time.Duration {
	if p < MinPercentile || p > MaxPercentile {
		return 0
	}
	return percentile(a.sortedCopy(), float64(p))
}

// Snapshot freezes the current state and precomputes every integer percentile.
func (a *Accumulator) Snapshot() *Snapshot {
	a.mu.RLock()
	evaluations := a.evaluations.Load()
	errs := a.errors.Load()
	sorted := make([]time.Duration, len(a.latencies))
	copy(sorted, a.latencies)
	a.mu.RUnlock()

	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return newSnapshot(evaluations, errs, sorted)
}

func (a *Accumulator) sortedCopy() []time.Duration {
	a.mu.RLock()
	sorted := make([]time.Duration, len(a.latencies))
	copy(sorted, a.latencies)
	a.mu.RUnlock()

	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}

func errorPercentage(evaluations, errs int64) float64 {
	if evaluations == 0 {
		return 0
	}
	return float64(errs) / float64(evaluations) * 100
}

func mean(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	var total float64
	for _, l := range latencies {
		total += float64(l)
	}
	return time.Duration(total / float64(len(latencies)))
}

// percentile interpolates linearly between the closest ranks of a sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	rank := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	lo, hi := float64(sorted[lower]), float64(sorted[upper])
	return time.Duration(math.Round(lo + (hi-lo)*(rank-float64(lower))))
}

// Millis converts a duration to fractional milliseconds.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

package reporting

import (
	"sort"
	"sync"

	"github.com/FairForge/microperf/internal/evaluation"
)

// Collector gathers finished evaluations for cross-run reporting. It is safe
// for concurrent use.
type Collector struct {
	mu          sync.Mutex
	evaluations []*evaluation.Context
	seen        map[string]bool
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{seen: make(map[string]bool)}
}

// Add records a finished evaluation. Adding the same context twice is a no-op.
func (c *Collector) Add(ectx *evaluation.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[ectx.ID] {
		return
	}
	c.seen[ectx.ID] = true
	c.evaluations = append(c.evaluations, ectx)
}

// Listener returns a completion callback that adds ectx.
func (c *Collector) Listener(ectx *evaluation.Context) func() {
	return func() { c.Add(ectx) }
}

// Evaluations returns the collected contexts ordered by start time, then name.
func (c *Collector) Evaluations() []*evaluation.Context {
	c.mu.Lock()
	out := make([]*evaluation.Context, len(c.evaluations))
	copy(out, c.evaluations)
	c.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Len returns how many evaluations were collected.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.evaluations)
}

// Report hands the ordered evaluations to every reporter.
func (c *Collector) Report(reporters ...Reporter) error {
	return Generate(c.Evaluations(), reporters...)
}

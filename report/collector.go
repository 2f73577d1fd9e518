package report

import (
	"sync"

	"github.com/weiihann/benchrun/connection"
)

// Status is how far a benchmark got.
type Status string

const (
	StatusStarted  Status = "started"
	StatusMeasured Status = "measured"
	StatusSkipped  Status = "skipped"
)

// Summary holds what the lifecycle messages told us about one benchmark.
type Summary struct {
	Target      string  `json:"target"`
	ID          string  `json:"id"`
	Group       string  `json:"group"`
	Status      Status  `json:"status"`
	WarmupNs    float64 `json:"warmup_ns,omitempty"`
	SampleCount uint64  `json:"sample_count,omitempty"`
	Iterations  float64 `json:"iterations,omitempty"`
	MeasuredNs  float64 `json:"measured_ns,omitempty"`
}

// Collector records lifecycle messages from benchmark targets. It satisfies
// target.Observer and is safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	summaries []Summary
	index     map[string]int
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{index: make(map[string]int)}
}

// Observe records one message sent by the named target.
func (c *Collector) Observe(target string, msg connection.IncomingMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m := msg.(type) {
	case connection.BeginningBenchmark:
		c.entry(target, m.ID).Status = StatusStarted

	case connection.SkippingBenchmark:
		c.entry(target, m.ID).Status = StatusSkipped

	case connection.Warmup:
		c.entry(target, m.ID).WarmupNs = m.Nanos

	case connection.MeasurementStart:
		c.entry(target, m.ID).SampleCount = m.SampleCount

	case connection.MeasurementComplete:
		s := c.entry(target, m.ID)
		s.Status = StatusMeasured
		s.Iterations = sum(m.Iters)
		s.MeasuredNs = sum(m.Times)
		if s.SampleCount == 0 {
			s.SampleCount = uint64(len(m.Times))
		}
	}
}

// entry returns the summary for id, creating it on first sight. The caller
// must hold c.mu.
func (c *Collector) entry(target string, id connection.RawBenchmarkID) *Summary {
	key := target + "\x00" + id.String()
	if i, ok := c.index[key]; ok {
		return &c.summaries[i]
	}
	c.summaries = append(c.summaries, Summary{
		Target: target,
		ID:     id.String(),
		Group:  id.GroupID,
		Status: StatusStarted,
	})
	c.index[key] = len(c.summaries) - 1
	return &c.summaries[len(c.summaries)-1]
}

// Summaries returns a copy of the recorded summaries in first-seen order.
func (c *Collector) Summaries() []Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Summary, len(c.summaries))
	copy(out, c.summaries)
	return out
}

func sum(xs []float64) float64 {
	var total float64
	for _, x := range xs {
		total += x
	}
	return total
}

package latencywindow

import (
	"math"

	"github.com/pkg/errors"
)

const (
	// ValueSizeBytes is the size of a single histogram counter.
	ValueSizeBytes = 8
	bytesPerMB     = 1024 * 1024
)

// Window is a bounded-memory latency histogram covering one reporting
// interval. Implementations are not safe for concurrent use; the reporting
// pipeline is the only writer.
type Window interface {
	Record(latency int64, bytes int64, records int64) // Record adds records samples observed at latency.
	Percentiles() []int64                             // Percentiles projects the histogram onto the configured fractions.
	Totals() Totals                                   // Totals returns the counters accumulated since the last Reset.
	Reset()                                           // Reset zeroes the histogram and all counters.
	Kind() string                                     // Kind names the storage strategy for logging.
}

// Totals are the running counters of a Window.
type Totals struct {
	Bytes   int64
	Records int64
	// ValidRecords are the records whose latency fell inside the histogram
	// range. Percentiles are computed against this count.
	ValidRecords     int64
	LowerDiscards    int64
	HigherDiscards   int64
	OverflowDiscards int64
	MinLatency       int64
	MaxLatency       int64
}

// Config describes the histogram range, the fractions to project onto and
// the memory budgets used when selecting a strategy.
type Config struct {
	MinLatency          int64
	MaxLatency          int64
	Fractions           []float64
	ArrayMemoryBudgetMB int64
	MapMemoryBudgetMB   int64
}

func (c Config) validate() error {
	if c.MinLatency < 0 {
		return errors.Errorf("expected minLatency >= 0; got %d", c.MinLatency)
	}
	if c.MaxLatency <= c.MinLatency {
		return errors.Errorf("expected maxLatency > minLatency; got min = %d, max = %d", c.MinLatency, c.MaxLatency)
	}
	prev := 0.0
	for _, f := range c.Fractions {
		if f <= 0 || f > 1 {
			return errors.Errorf("expected percentile fractions in (0, 1]; got %v", f)
		}
		if f <= prev {
			return errors.Errorf("expected percentile fractions in ascending order; got %v", c.Fractions)
		}
		prev = f
	}
	return nil
}

// ArrayFootprintBytes is the memory a dense window over [minLatency,
// maxLatency] would use.
func ArrayFootprintBytes(minLatency, maxLatency int64) int64 {
	return (maxLatency - minLatency) * ValueSizeBytes
}

// UseArray reports whether the dense strategy fits inside the array memory
// budget and the addressable index space.
func UseArray(c Config) bool {
	latencyRange := c.MaxLatency - c.MinLatency
	if latencyRange >= math.MaxInt32 {
		return false
	}
	return ArrayFootprintBytes(c.MinLatency, c.MaxLatency) <= c.ArrayMemoryBudgetMB*bytesPerMB
}

// New selects and builds a Window for the session. The decision is made once
// and never revisited while the session runs.
func New(c Config) (Window, error) {
	if err := c.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid latency window config")
	}
	if UseArray(c) {
		return NewArrayWindow(c.MinLatency, c.MaxLatency, c.Fractions), nil
	}
	return NewMapWindow(c.MinLatency, c.MaxLatency, c.Fractions, c.MapMemoryBudgetMB), nil
}

// thresholds converts fractions into the cumulative counts each percentile
// must reach. A small epsilon absorbs float error such as 0.57*100.
func thresholds(fractions []float64, total int64) []int64 {
	out := make([]int64, len(fractions))
	for i, f := range fractions {
		t := int64(math.Ceil(f*float64(total) - 1e-9))
		if t < 1 {
			t = 1
		}
		out[i] = t
	}
	return out
}

// counters holds the bookkeeping shared by both strategies.
type counters struct {
	minLatency int64
	maxLatency int64
	totals     Totals
}

// observe updates the volume totals and the range discards. It reports
// whether latency falls inside the histogram range.
func (c *counters) observe(latency, bytes, records int64) bool {
	c.totals.Bytes += bytes
	c.totals.Records += records

	if latency < c.minLatency {
		c.totals.LowerDiscards += records
		return false
	}
	if latency > c.maxLatency {
		c.totals.HigherDiscards += records
		return false
	}
	return true
}

// accept counts records that made it into a bucket.
func (c *counters) accept(latency, records int64) {
	if c.totals.ValidRecords == 0 || latency < c.totals.MinLatency {
		c.totals.MinLatency = latency
	}
	if latency > c.totals.MaxLatency {
		c.totals.MaxLatency = latency
	}
	c.totals.ValidRecords += records
}

func (c *counters) reset() {
	c.totals = Totals{}
}

package latencywindow

// ArrayWindow stores one counter per latency value in [minLatency,
// maxLatency]. Record and lookup are O(1), but memory is proportional to the
// range regardless of how many buckets are occupied, so it is only selected
// when the range fits the array memory budget.
type ArrayWindow struct {
	counters
	fractions []float64
	buckets   []int64
}

func NewArrayWindow(minLatency, maxLatency int64, fractions []float64) *ArrayWindow {
	return &ArrayWindow{
		counters: counters{
			minLatency: minLatency,
			maxLatency: maxLatency,
		},
		fractions: fractions,
		buckets:   make([]int64, maxLatency-minLatency+1),
	}
}

func (w *ArrayWindow) Record(latency int64, bytes int64, records int64) {
	if !w.observe(latency, bytes, records) || records <= 0 {
		return
	}
	w.buckets[latency-w.minLatency] += records
	w.accept(latency, records)
}

func (w *ArrayWindow) Percentiles() []int64 {
	values := make([]int64, len(w.fractions))
	if w.totals.ValidRecords == 0 {
		return values
	}

	targets := thresholds(w.fractions, w.totals.ValidRecords)
	next := 0
	var cumulative int64
	for i, count := range w.buckets {
		if count == 0 {
			continue
		}
		cumulative += count
		for next < len(targets) && cumulative >= targets[next] {
			values[next] = w.minLatency + int64(i)
			next++
		}
		if next == len(targets) {
			break
		}
	}
	return values
}

func (w *ArrayWindow) Totals() Totals {
	return w.totals
}

func (w *ArrayWindow) Reset() {
	for i := range w.buckets {
		w.buckets[i] = 0
	}
	w.reset()
}

func (*ArrayWindow) Kind() string {
	return "array"
}

package latencywindow

import "sort"

// mapEntryBytes approximates the cost of one map bucket: key, value and
// runtime bookkeeping.
const mapEntryBytes = 2*ValueSizeBytes + 16

// MapWindow stores only the latency values that were observed. It is used
// when the range is too wide for an ArrayWindow. The number of distinct
// buckets is capped by a memory budget: once full, samples for a latency
// without an existing bucket are refused and counted as overflow discards.
type MapWindow struct {
	counters
	fractions  []float64
	buckets    map[int64]int64
	maxBuckets int
}

func NewMapWindow(minLatency, maxLatency int64, fractions []float64, memoryBudgetMB int64) *MapWindow {
	return &MapWindow{
		counters: counters{
			minLatency: minLatency,
			maxLatency: maxLatency,
		},
		fractions:  fractions,
		buckets:    map[int64]int64{},
		maxBuckets: MaxMapBuckets(memoryBudgetMB),
	}
}

// MaxMapBuckets is the number of distinct latency buckets a MapWindow may
// hold under memoryBudgetMB.
func MaxMapBuckets(memoryBudgetMB int64) int {
	return int(memoryBudgetMB * bytesPerMB / mapEntryBytes)
}

func (w *MapWindow) Record(latency int64, bytes int64, records int64) {
	if !w.observe(latency, bytes, records) || records <= 0 {
		return
	}
	if _, ok := w.buckets[latency]; !ok && len(w.buckets) >= w.maxBuckets {
		w.totals.OverflowDiscards += records
		return
	}
	w.buckets[latency] += records
	w.accept(latency, records)
}

func (w *MapWindow) Percentiles() []int64 {
	values := make([]int64, len(w.fractions))
	if w.totals.ValidRecords == 0 {
		return values
	}

	keys := make([]int64, 0, len(w.buckets))
	for k := range w.buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	targets := thresholds(w.fractions, w.totals.ValidRecords)
	next := 0
	var cumulative int64
	for _, k := range keys {
		cumulative += w.buckets[k]
		for next < len(targets) && cumulative >= targets[next] {
			values[next] = k
			next++
		}
		if next == len(targets) {
			break
		}
	}
	return values
}

func (w *MapWindow) Totals() Totals {
	return w.totals
}

func (w *MapWindow) Reset() {
	w.buckets = map[int64]int64{}
	w.reset()
}

func (*MapWindow) Kind() string {
	return "map"
}

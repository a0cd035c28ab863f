package latencywindow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// windowsUnderTest builds both strategies over the same range so behaviour
// can be compared side by side.
func windowsUnderTest(min, max int64, fractions []float64) map[string]Window {
	return map[string]Window{
		"array": NewArrayWindow(min, max, fractions),
		"map":   NewMapWindow(min, max, fractions, 1),
	}
}

func TestWindow_Percentiles_EmptyWindowReturnsZeroes(t *testing.T) {
	for name, w := range windowsUnderTest(0, 100, []float64{0.5, 0.99}) {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, []int64{0, 0}, w.Percentiles())
		})
	}
}

func TestWindow_Percentiles_UniformDistribution(t *testing.T) {
	for name, w := range windowsUnderTest(0, 100, []float64{0.1, 0.5, 0.9, 0.99, 1}) {
		t.Run(name, func(t *testing.T) {
			// One sample at each latency from 1 to 100.
			for i := int64(1); i <= 100; i++ {
				w.Record(i, 10, 1)
			}
			assert.Equal(t, []int64{10, 50, 90, 99, 100}, w.Percentiles())
		})
	}
}

func TestWindow_Percentiles_FirstSatisfyingBucketWins(t *testing.T) {
	for name, w := range windowsUnderTest(0, 1000, []float64{0.25, 0.5, 0.75}) {
		t.Run(name, func(t *testing.T) {
			// Exactly half the samples sit at 10, so the median must resolve to
			// 10 rather than the next occupied bucket.
			w.Record(10, 0, 50)
			w.Record(500, 0, 50)
			assert.Equal(t, []int64{10, 10, 500}, w.Percentiles())
		})
	}
}

func TestWindow_Percentiles_Monotonic(t *testing.T) {
	fractions := []float64{0.05, 0.1, 0.25, 0.5, 0.75, 0.9, 0.95, 0.99, 0.999}
	for name, w := range windowsUnderTest(0, 5000, fractions) {
		t.Run(name, func(t *testing.T) {
			// A skewed, deterministic spread of latencies.
			for i := int64(0); i < 2000; i++ {
				w.Record((i*i)%5001, 1, 1+i%3)
			}
			values := w.Percentiles()
			require.Len(t, values, len(fractions))
			for i := 1; i < len(values); i++ {
				assert.LessOrEqualf(t, values[i-1], values[i], "expected p%v <= p%v; got %d > %d", fractions[i-1], fractions[i], values[i-1], values[i])
			}
		})
	}
}

func TestWindow_Record_OutOfRangeSamplesAreCountedButNotBucketed(t *testing.T) {
	for name, w := range windowsUnderTest(10, 20, []float64{0.5}) {
		t.Run(name, func(t *testing.T) {
			w.Record(5, 100, 2)
			w.Record(25, 100, 3)
			w.Record(15, 100, 1)

			totals := w.Totals()
			assert.Equal(t, int64(300), totals.Bytes)
			assert.Equal(t, int64(6), totals.Records)
			assert.Equal(t, int64(1), totals.ValidRecords)
			assert.Equal(t, int64(2), totals.LowerDiscards)
			assert.Equal(t, int64(3), totals.HigherDiscards)
			assert.Equal(t, int64(15), totals.MinLatency)
			assert.Equal(t, int64(15), totals.MaxLatency)
			assert.Equal(t, []int64{15}, w.Percentiles())
		})
	}
}

func TestWindow_Record_RangeBoundsAreInclusive(t *testing.T) {
	for name, w := range windowsUnderTest(10, 20, []float64{0.5, 1}) {
		t.Run(name, func(t *testing.T) {
			w.Record(10, 0, 1)
			w.Record(20, 0, 1)
			assert.Equal(t, int64(2), w.Totals().ValidRecords)
			assert.Equal(t, []int64{10, 20}, w.Percentiles())
		})
	}
}

func TestWindow_Reset(t *testing.T) {
	for name, w := range windowsUnderTest(0, 100, []float64{0.5}) {
		t.Run(name, func(t *testing.T) {
			w.Record(40, 1024, 10)
			w.Reset()

			assert.Equal(t, Totals{}, w.Totals())
			assert.Equal(t, []int64{0}, w.Percentiles())

			w.Record(60, 1, 1)
			assert.Equal(t, []int64{60}, w.Percentiles())
		})
	}
}

func TestMapWindow_Record_RefusesNewBucketsBeyondBudget(t *testing.T) {
	w := NewMapWindow(0, 1<<40, []float64{0.5}, 1)
	w.maxBuckets = 2

	w.Record(1, 0, 1)
	w.Record(2, 0, 1)
	w.Record(3, 0, 4)
	// Existing buckets keep counting after the cap is hit.
	w.Record(2, 0, 1)

	totals := w.Totals()
	assert.Equal(t, int64(7), totals.Records)
	assert.Equal(t, int64(3), totals.ValidRecords)
	assert.Equal(t, int64(4), totals.OverflowDiscards)
	assert.Len(t, w.buckets, 2)
	assert.Equal(t, []int64{2}, w.Percentiles())
}

func TestMaxMapBuckets(t *testing.T) {
	assert.Equal(t, 1024*1024/mapEntryBytes, MaxMapBuckets(1))
	assert.Equal(t, 0, MaxMapBuckets(0))
}

func TestNew_SelectsStrategy(t *testing.T) {
	boundary := int64(1024 * 1024 / ValueSizeBytes)
	tests := []struct {
		name       string
		minLatency int64
		maxLatency int64
		want       string
	}{
		{
			name:       "Small range selects array",
			minLatency: 0,
			maxLatency: 1000,
			want:       "array",
		},
		{
			name:       "Footprint equal to budget selects array",
			minLatency: 0,
			maxLatency: boundary,
			want:       "array",
		},
		{
			name:       "Footprint one bucket over budget selects map",
			minLatency: 0,
			maxLatency: boundary + 1,
			want:       "map",
		},
		{
			name:       "Offset range is measured from minLatency",
			minLatency: 500,
			maxLatency: 500 + boundary,
			want:       "array",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := New(Config{
				MinLatency:          tt.minLatency,
				MaxLatency:          tt.maxLatency,
				Fractions:           []float64{0.5},
				ArrayMemoryBudgetMB: 1,
				MapMemoryBudgetMB:   1,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, w.Kind())
		})
	}
}

func TestUseArray_RangeBeyondIndexSpaceSelectsMap(t *testing.T) {
	assert.False(t, UseArray(Config{
		MinLatency:          0,
		MaxLatency:          1 << 31,
		ArrayMemoryBudgetMB: 1 << 20,
	}))
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{name: "Negative minLatency", config: Config{MinLatency: -1, MaxLatency: 10}},
		{name: "Empty range", config: Config{MinLatency: 10, MaxLatency: 10}},
		{name: "Fraction above one", config: Config{MaxLatency: 10, Fractions: []float64{1.5}}},
		{name: "Zero fraction", config: Config{MaxLatency: 10, Fractions: []float64{0}}},
		{name: "Descending fractions", config: Config{MaxLatency: 10, Fractions: []float64{0.9, 0.5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			assert.Error(t, err)
		})
	}
}

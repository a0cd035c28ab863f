package reporting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercentileName(t *testing.T) {
	tests := []struct {
		fraction float64
		want     string
	}{
		{fraction: 0.5, want: "p50"},
		{fraction: 0.99, want: "p99"},
		{fraction: 0.999, want: "p99.9"},
		{fraction: 0.9999, want: "p99.99"},
		{fraction: 1, want: "p100"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, PercentileName(tt.fraction))
		})
	}
}

func TestIntervalReport_Rates(t *testing.T) {
	start := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)
	report := &IntervalReport{
		IntervalStart: start,
		IntervalEnd:   start.Add(2 * time.Second),
		Bytes:         4 * 1024 * 1024,
		Records:       500,
	}
	assert.InDelta(t, 250, report.RecordsPerSecond(), 1e-9)
	assert.InDelta(t, 2, report.MBPerSecond(), 1e-9)

	empty := &IntervalReport{IntervalStart: start, IntervalEnd: start}
	assert.Equal(t, float64(0), empty.RecordsPerSecond())
	assert.Equal(t, float64(0), empty.MBPerSecond())
}

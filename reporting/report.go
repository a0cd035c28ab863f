package reporting

import (
	"math"
	"strconv"
	"time"

	"github.com/kcz17/benchram/ingestion"
)

// Session describes the session a Sink is reporting on.
type Session struct {
	ID         string
	Parameters ingestion.SessionParameters
	Interval   time.Duration
	// WindowKind names the latency window strategy selected for the session.
	WindowKind string
}

// IntervalReport summarises one reporting interval. The latency window is
// reset after each report, so nothing is carried between intervals.
type IntervalReport struct {
	IntervalStart    time.Time
	IntervalEnd      time.Time
	Bytes            int64
	Records          int64
	ValidRecords     int64
	LowerDiscards    int64
	HigherDiscards   int64
	OverflowDiscards int64
	MinLatency       int64
	MaxLatency       int64
	// Percentiles are the configured fractions; PercentileValues holds the
	// latency projected for each fraction at the same index.
	Percentiles      []float64
	PercentileValues []int64
}

// RecordsPerSecond is the throughput observed over the interval.
func (r *IntervalReport) RecordsPerSecond() float64 {
	seconds := r.IntervalEnd.Sub(r.IntervalStart).Seconds()
	if seconds <= 0 {
		return 0
	}
	return float64(r.Records) / seconds
}

// MBPerSecond is the data volume observed over the interval.
func (r *IntervalReport) MBPerSecond() float64 {
	seconds := r.IntervalEnd.Sub(r.IntervalStart).Seconds()
	if seconds <= 0 {
		return 0
	}
	return float64(r.Bytes) / (1024 * 1024) / seconds
}

// TerminalReport summarises the whole session once the pipeline stops.
type TerminalReport struct {
	SessionStart time.Time
	SessionEnd   time.Time
	TotalBytes   int64
	TotalRecords int64
	// EarliestBatchStart and LatestBatchEnd are the worker-reported batch
	// bounds in milliseconds since the epoch, or 0 without any batches.
	EarliestBatchStart int64
	LatestBatchEnd     int64
	MinLatency         int64
	// Faults counts batches dropped for a malformed shape.
	Faults    int64
	Intervals int
	// Percentiles are computed over the whole session from a HDR histogram,
	// so values are accurate to three significant figures.
	Percentiles      []float64
	PercentileValues []int64
	Throughput       ThroughputSummary
}

// ThroughputSummary describes how records per second varied between
// intervals.
type ThroughputSummary struct {
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// Sink receives reports from the pipeline. Interval and Terminal are called
// synchronously from the pipeline goroutine; a returned error is fatal to
// the session.
type Sink interface {
	Open(session *Session) error
	Interval(report *IntervalReport) error
	Terminal(report *TerminalReport) error
	Close() error
}

// PercentileName formats a fraction as a percentile label, e.g. 0.999 is
// "p99.9".
func PercentileName(fraction float64) string {
	percent := math.Round(fraction*100*1e6) / 1e6
	return "p" + strconv.FormatFloat(percent, 'f', -1, 64)
}

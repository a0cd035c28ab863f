package logging

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/kcz17/benchram/reporting"
)

// stdoutLogger logs reports through logrus.
type stdoutLogger struct {
	logger  *log.Logger
	session *reporting.Session
}

func NewStdoutLogger(logger *log.Logger) *stdoutLogger {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &stdoutLogger{logger: logger}
}

func (l *stdoutLogger) Open(session *reporting.Session) error {
	l.session = session
	l.logger.WithFields(log.Fields{
		"session":    session.ID,
		"window":     session.WindowKind,
		"minLatency": session.Parameters.MinLatency,
		"maxLatency": session.Parameters.MaxLatency,
		"interval":   session.Interval,
	}).Info("benchmark session opened")
	return nil
}

func (l *stdoutLogger) Interval(r *reporting.IntervalReport) error {
	l.logger.WithFields(l.fields()).Infof(
		"%d records, %.1f records/sec, %.3f MB/sec, min: %d ms, max: %d ms, discarded: %d, %s",
		r.Records,
		r.RecordsPerSecond(),
		r.MBPerSecond(),
		r.MinLatency,
		r.MaxLatency,
		r.LowerDiscards+r.HigherDiscards+r.OverflowDiscards,
		formatPercentiles(r.Percentiles, r.PercentileValues),
	)
	return nil
}

func (l *stdoutLogger) Terminal(r *reporting.TerminalReport) error {
	l.logger.WithFields(l.fields()).Infof(
		"total: %d records, %d bytes in %s over %d intervals, %.1f records/sec (stddev %.1f), faults: %d, %s",
		r.TotalRecords,
		r.TotalBytes,
		r.SessionEnd.Sub(r.SessionStart),
		r.Intervals,
		r.Throughput.Mean,
		r.Throughput.StdDev,
		r.Faults,
		formatPercentiles(r.Percentiles, r.PercentileValues),
	)
	return nil
}

func (*stdoutLogger) Close() error {
	return nil
}

func (l *stdoutLogger) fields() log.Fields {
	if l.session == nil {
		return log.Fields{}
	}
	return log.Fields{"session": l.session.ID}
}

func formatPercentiles(fractions []float64, values []int64) string {
	parts := make([]string, 0, len(values))
	for i, v := range values {
		if i >= len(fractions) {
			break
		}
		parts = append(parts, fmt.Sprintf("%s: %d ms", reporting.PercentileName(fractions[i]), v))
	}
	return strings.Join(parts, ", ")
}

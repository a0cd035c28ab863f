package logging

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kcz17/benchram/reporting"
)

// influxDBLogger writes reports to an external InfluxDB instance. A client is
// created on each Open and released on Close, so one logger can serve several
// sessions in turn.
type influxDBLogger struct {
	baseURL   string
	authToken string
	org       string
	bucket    string

	client      influxdb2.Client
	asyncWriter api.WriteAPI
	sessionID   string
}

func NewInfluxDBLogger(baseURL, authToken, org, bucket string) *influxDBLogger {
	return &influxDBLogger{
		baseURL:   baseURL,
		authToken: authToken,
		org:       org,
		bucket:    bucket,
	}
}

func (l *influxDBLogger) Open(session *reporting.Session) error {
	if l.client != nil {
		l.release()
	}

	options := influxdb2.DefaultOptions()
	options.WriteOptions().SetBatchSize(100)
	options.WriteOptions().SetFlushInterval(1000)

	l.client = influxdb2.NewClientWithOptions(l.baseURL, l.authToken, options)
	l.asyncWriter = l.client.WriteAPI(l.org, l.bucket)
	l.sessionID = session.ID

	// Create a goroutine for reading and logging async write errors.
	errorsCh := l.asyncWriter.Errors()
	go func() {
		for err := range errorsCh {
			log.WithError(err).Warn("influxdb2 report async write error")
		}
	}()
	return nil
}

func (l *influxDBLogger) Interval(r *reporting.IntervalReport) error {
	if l.asyncWriter == nil {
		return errors.New("influxDBLogger.Interval() failed: logger not open")
	}
	l.asyncWriter.WritePoint(intervalPoint(l.sessionID, r))
	return nil
}

func (l *influxDBLogger) Terminal(r *reporting.TerminalReport) error {
	if l.asyncWriter == nil {
		return errors.New("influxDBLogger.Terminal() failed: logger not open")
	}
	l.asyncWriter.WritePoint(terminalPoint(l.sessionID, r))
	return nil
}

// Close flushes pending points and releases the client. Closing a logger
// which is not open does nothing.
func (l *influxDBLogger) Close() error {
	if l.client != nil {
		l.release()
	}
	return nil
}

func (l *influxDBLogger) release() {
	l.asyncWriter.Flush()
	l.client.Close()
	l.client = nil
	l.asyncWriter = nil
}

func intervalPoint(sessionID string, r *reporting.IntervalReport) *write.Point {
	p := influxdb2.NewPointWithMeasurement("benchram_interval").
		AddTag("session_id", sessionID).
		AddField("bytes", r.Bytes).
		AddField("records", r.Records).
		AddField("valid_records", r.ValidRecords).
		AddField("discarded_records", r.LowerDiscards+r.HigherDiscards+r.OverflowDiscards).
		AddField("records_per_second", r.RecordsPerSecond()).
		AddField("mb_per_second", r.MBPerSecond()).
		AddField("min_latency", r.MinLatency).
		AddField("max_latency", r.MaxLatency).
		SetTime(r.IntervalEnd)
	addPercentileFields(p, r.Percentiles, r.PercentileValues)
	return p
}

func terminalPoint(sessionID string, r *reporting.TerminalReport) *write.Point {
	p := influxdb2.NewPointWithMeasurement("benchram_total").
		AddTag("session_id", sessionID).
		AddField("bytes", r.TotalBytes).
		AddField("records", r.TotalRecords).
		AddField("faults", r.Faults).
		AddField("duration_seconds", r.SessionEnd.Sub(r.SessionStart).Seconds()).
		AddField("mean_records_per_second", r.Throughput.Mean).
		AddField("stddev_records_per_second", r.Throughput.StdDev).
		SetTime(endOrNow(r.SessionEnd))
	addPercentileFields(p, r.Percentiles, r.PercentileValues)
	return p
}

func addPercentileFields(p *write.Point, fractions []float64, values []int64) {
	for i, v := range values {
		if i >= len(fractions) {
			break
		}
		p.AddField(reporting.PercentileName(fractions[i]), v)
	}
}

func endOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

package reporting

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kcz17/benchram/clock"
	"github.com/kcz17/benchram/ingestion"
	"github.com/kcz17/benchram/latencywindow"
)

// Totals are the session-lifetime aggregates. They are never reset while the
// session runs.
type Totals struct {
	Bytes   int64
	Records int64
	// EarliestStart and LatestEnd are batch timestamps in milliseconds.
	EarliestStart int64
	LatestEnd     int64
	MinLatency    int64
}

func (t *Totals) merge(b *ingestion.SampleBatch) {
	// A batch without records carries volume but no timing.
	if b.Records == 0 {
		t.Bytes += b.Bytes
		return
	}
	if t.Records == 0 || b.StartTime < t.EarliestStart {
		t.EarliestStart = b.StartTime
	}
	if b.EndTime > t.LatestEnd {
		t.LatestEnd = b.EndTime
	}

	// Latency-aware batches report the smallest latency inside the batch;
	// otherwise the batch latency is the best lower bound available.
	minLatency := b.Latency()
	if b.MinLatency > 0 {
		minLatency = b.MinLatency
	}
	if t.Records == 0 || minLatency < t.MinLatency {
		t.MinLatency = minLatency
	}

	t.Bytes += b.Bytes
	t.Records += b.Records
}

type PipelineOptions struct {
	Queue    *ingestion.Queue
	Window   latencywindow.Window
	Sink     Sink
	Clock    clock.Clock
	Interval time.Duration
	// Parameters must match the range and fractions the Window was built
	// with.
	Parameters ingestion.SessionParameters
}

// Pipeline is the single consumer of the ingestion queue. It merges batches
// into the latency window and, on a fixed wall-clock cadence, emits an
// interval report and resets the window. Only the pipeline goroutine touches
// the window and totals while the loop runs.
type Pipeline struct {
	queue      *ingestion.Queue
	window     latencywindow.Window
	sink       Sink
	clock      clock.Clock
	interval   time.Duration
	parameters ingestion.SessionParameters

	totals Totals
	// sessionLatencies backs the terminal report's percentiles, as the
	// window is reset every interval.
	sessionLatencies *hdrhistogram.Histogram
	intervalRates    []float64
	sessionStart     time.Time
	deadline         time.Time
	faults           int64

	// errs carries the first fault that ended the loop.
	errs chan error
	// loopWG allows the spawned goroutine to be gracefully stopped.
	loopStarted bool
	loopWG      *sync.WaitGroup
	loopStop    chan bool
	stopOnce    *sync.Once
	stopErr     error
}

func NewPipeline(options *PipelineOptions) (*Pipeline, error) {
	if options.Interval <= 0 {
		return nil, errors.Errorf("NewPipeline() expected interval > 0; got %v", options.Interval)
	}

	highest := options.Parameters.MaxLatency
	if highest < 2 {
		highest = 2
	}

	return &Pipeline{
		queue:            options.Queue,
		window:           options.Window,
		sink:             options.Sink,
		clock:            options.Clock,
		interval:         options.Interval,
		parameters:       options.Parameters,
		sessionLatencies: hdrhistogram.New(1, highest, 3),
		errs:             make(chan error, 1),
		stopOnce:         &sync.Once{},
	}, nil
}

func (p *Pipeline) Start() error {
	if p.loopStarted {
		return errors.New("Pipeline.Start() failed: reporting loop already started")
	}

	p.sessionStart = p.clock.Now()
	p.deadline = p.sessionStart.Add(p.interval)
	p.loopStop = make(chan bool, 1)
	p.loopWG = &sync.WaitGroup{}
	p.loopWG.Add(1)
	go p.reportingLoop()

	p.loopStarted = true
	return nil
}

// Stop ends the reporting loop, merges anything still queued and emits the
// terminal report. Calling Stop more than once returns the first result
// without emitting again.
func (p *Pipeline) Stop() error {
	if !p.loopStarted {
		return errors.New("Pipeline.Stop() failed: reporting loop not running")
	}

	p.stopOnce.Do(func() {
		close(p.loopStop)
		p.loopWG.Wait()

		p.merge(p.queue.Drain())
		report := p.terminalReport(p.clock.Now())
		if err := p.sink.Terminal(report); err != nil {
			p.stopErr = errors.Wrap(err, "could not emit terminal report")
		}
	})
	return p.stopErr
}

// Err delivers at most one fault that ended the reporting loop early.
func (p *Pipeline) Err() <-chan error {
	return p.errs
}

// Faults is the number of malformed batches dropped so far.
func (p *Pipeline) Faults() int64 {
	return atomic.LoadInt64(&p.faults)
}

func (p *Pipeline) reportingLoop() {
	defer p.loopWG.Done()
	defer func() {
		if r := recover(); r != nil {
			p.fail(errors.Errorf("reporting loop panicked: %v", r))
		}
	}()

	for {
		// Read the time before draining so a batch queued ahead of a deadline
		// is always merged into the interval that deadline closes.
		now := p.clock.Now()
		p.merge(p.queue.Drain())

		for !now.Before(p.deadline) {
			if err := p.emitInterval(); err != nil {
				p.fail(err)
				return
			}
		}

		// Wait for new batches or the next deadline, whichever comes first.
		timer := p.clock.TimerUntil(p.deadline)
		select {
		case <-p.queue.Ready():
		case <-timer.C():
		case <-p.loopStop:
			timer.Stop()
			return
		}
		timer.Stop()
	}
}

func (p *Pipeline) merge(batches []*ingestion.SampleBatch) {
	for _, b := range batches {
		if err := b.Validate(); err != nil {
			atomic.AddInt64(&p.faults, 1)
			log.WithError(err).WithField("worker", workerOf(b)).Warn("dropping malformed sample batch")
			continue
		}

		latency := b.Latency()
		p.window.Record(latency, b.Bytes, b.Records)
		p.totals.merge(b)
		if b.Records > 0 && p.parameters.InRange(latency) {
			if err := p.sessionLatencies.RecordValues(latency, b.Records); err != nil {
				log.WithError(err).WithField("latency", latency).Debug("latency outside session histogram")
			}
		}
	}
}

func (p *Pipeline) emitInterval() error {
	totals := p.window.Totals()
	report := &IntervalReport{
		IntervalStart:    p.deadline.Add(-p.interval),
		IntervalEnd:      p.deadline,
		Bytes:            totals.Bytes,
		Records:          totals.Records,
		ValidRecords:     totals.ValidRecords,
		LowerDiscards:    totals.LowerDiscards,
		HigherDiscards:   totals.HigherDiscards,
		OverflowDiscards: totals.OverflowDiscards,
		MinLatency:       totals.MinLatency,
		MaxLatency:       totals.MaxLatency,
		Percentiles:      p.parameters.Percentiles,
		PercentileValues: p.window.Percentiles(),
	}

	p.window.Reset()
	p.deadline = p.deadline.Add(p.interval)
	p.intervalRates = append(p.intervalRates, report.RecordsPerSecond())

	if err := p.sink.Interval(report); err != nil {
		return errors.Wrap(err, "could not emit interval report")
	}
	return nil
}

func (p *Pipeline) terminalReport(end time.Time) *TerminalReport {
	values := make([]int64, len(p.parameters.Percentiles))
	if p.sessionLatencies.TotalCount() > 0 {
		for i, f := range p.parameters.Percentiles {
			values[i] = p.sessionLatencies.ValueAtQuantile(f * 100)
		}
	}

	return &TerminalReport{
		SessionStart:       p.sessionStart,
		SessionEnd:         end,
		TotalBytes:         p.totals.Bytes,
		TotalRecords:       p.totals.Records,
		EarliestBatchStart: p.totals.EarliestStart,
		LatestBatchEnd:     p.totals.LatestEnd,
		MinLatency:         p.totals.MinLatency,
		Faults:             p.Faults(),
		Intervals:          len(p.intervalRates),
		Percentiles:        p.parameters.Percentiles,
		PercentileValues:   values,
		Throughput:         summariseThroughput(p.intervalRates),
	}
}

func (p *Pipeline) fail(err error) {
	log.WithError(err).Error("reporting pipeline stopped")
	select {
	case p.errs <- err:
	default:
	}
}

// summariseThroughput ignores errors from the stats package, which only
// occur for empty input.
func summariseThroughput(rates []float64) ThroughputSummary {
	if len(rates) == 0 {
		return ThroughputSummary{}
	}
	data := stats.Float64Data(rates)
	mean, _ := stats.Mean(data)
	stdDev, _ := stats.StandardDeviation(data)
	lowest, _ := stats.Min(data)
	highest, _ := stats.Max(data)
	return ThroughputSummary{
		Mean:   mean,
		StdDev: stdDev,
		Min:    lowest,
		Max:    highest,
	}
}

func workerOf(b *ingestion.SampleBatch) string {
	if b == nil {
		return ""
	}
	return b.WorkerID
}

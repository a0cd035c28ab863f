package serving

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/kcz17/benchram/ingestion"
)

// ingestionMetrics are registered per server so concurrent sessions in one
// process do not collide on the default registry.
type ingestionMetrics struct {
	registry         *prometheus.Registry
	acceptedBatches  *prometheus.CounterVec
	rejectedBatches  *prometheus.CounterVec
	acceptedRecords  prometheus.Counter
	submitLatencySec prometheus.Histogram
}

func newIngestionMetrics(queue *ingestion.Queue) *ingestionMetrics {
	m := &ingestionMetrics{
		registry: prometheus.NewRegistry(),
		acceptedBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "benchram",
			Name:      "accepted_batches_total",
			Help:      "Sample batches accepted onto the ingestion queue.",
		}, []string{"transport"}),
		rejectedBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "benchram",
			Name:      "rejected_batches_total",
			Help:      "Sample batches rejected before reaching the ingestion queue.",
		}, []string{"transport", "reason"}),
		acceptedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "benchram",
			Name:      "accepted_records_total",
			Help:      "Records carried by accepted sample batches.",
		}),
		submitLatencySec: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "benchram",
			Name:      "submit_handler_seconds",
			Help:      "Time spent handling a submission.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
	}

	queueDepth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "benchram",
		Name:      "ingestion_queue_depth",
		Help:      "Batches waiting for the reporting pipeline.",
	}, func() float64 {
		return float64(queue.Len())
	})

	m.registry.MustRegister(
		m.acceptedBatches,
		m.rejectedBatches,
		m.acceptedRecords,
		m.submitLatencySec,
		queueDepth,
	)
	return m
}

func (m *ingestionMetrics) accepted(transport string, b *ingestion.SampleBatch) {
	m.acceptedBatches.WithLabelValues(transport).Inc()
	m.acceptedRecords.Add(float64(b.Records))
}

func (m *ingestionMetrics) rejected(transport, reason string) {
	m.rejectedBatches.WithLabelValues(transport, reason).Inc()
}

func (m *ingestionMetrics) handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

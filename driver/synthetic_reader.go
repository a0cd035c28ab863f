package driver

import (
	"context"
	"math"
	"time"

	"github.com/kcz17/benchram/clock"
	"github.com/kcz17/benchram/ingestion"
	"github.com/kcz17/benchram/stats"
)

type SyntheticReaderOptions struct {
	WorkerID   string
	RecordSize int
	// Records is the total the reader produces before ErrEndOfData. Zero
	// means unlimited.
	Records int64
	// Latencies in milliseconds follow a normal distribution truncated to
	// [MinLatency, MaxLatency].
	MeanLatency   float64
	StdDevLatency float64
	MinLatency    float64
	MaxLatency    float64
	Seed          uint64
	Clock         clock.Clock
}

// SyntheticReader produces records without a backend. Each record appears to
// have been written a randomly sampled latency ago.
type SyntheticReader struct {
	workerID   string
	recordSize int
	records    int64
	read       int64
	latencies  *stats.TruncatedNormal
	clock      clock.Clock
}

func NewSyntheticReader(options *SyntheticReaderOptions) *SyntheticReader {
	c := options.Clock
	if c == nil {
		c = clock.NewRealtimeClock()
	}
	return &SyntheticReader{
		workerID:   options.WorkerID,
		recordSize: payloadSize(options.RecordSize),
		records:    options.Records,
		latencies: stats.NewTruncatedNormal(
			options.MinLatency,
			options.MaxLatency,
			options.MeanLatency,
			options.StdDevLatency,
			options.Seed,
		),
		clock: c,
	}
}

func (r *SyntheticReader) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if batchSize(1, r.read, r.records) <= 0 {
		return nil, ErrEndOfData
	}
	r.read++
	return EncodePayload(r.nowMs()-r.sampleLatency(), r.recordSize), nil
}

func (r *SyntheticReader) RecordBatch(ctx context.Context, n int64) (*ingestion.SampleBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n = batchSize(n, r.read, r.records)
	if n <= 0 {
		return nil, ErrEndOfData
	}

	end := r.nowMs()
	r.read += n
	return &ingestion.SampleBatch{
		WorkerID:  r.workerID,
		StartTime: end - r.sampleLatency(),
		EndTime:   end,
		Bytes:     n * int64(r.recordSize),
		Records:   n,
	}, nil
}

func (r *SyntheticReader) RecordBatchWithEmbeddedTime(ctx context.Context, n int64) (*ingestion.SampleBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n = batchSize(n, r.read, r.records)
	if n <= 0 {
		return nil, ErrEndOfData
	}

	end := r.nowMs()
	batch := &ingestion.SampleBatch{WorkerID: r.workerID, EndTime: end}
	smallest := int64(math.MaxInt64)
	for i := int64(0); i < n; i++ {
		latency := r.sampleLatency()
		if i == 0 {
			batch.StartTime = end - latency
		}
		if latency < smallest {
			smallest = latency
		}
	}
	batch.MinLatency = clampLatency(smallest, batch.Latency())
	batch.Bytes = n * int64(r.recordSize)
	batch.Records = n

	r.read += n
	return batch, nil
}

func (r *SyntheticReader) Close() error {
	return nil
}

func (r *SyntheticReader) sampleLatency() int64 {
	latency := int64(math.Round(r.latencies.Rand()))
	if latency < 0 {
		return 0
	}
	return latency
}

func (r *SyntheticReader) nowMs() int64 {
	return r.clock.Now().UnixNano() / int64(time.Millisecond)
}

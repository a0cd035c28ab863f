package worker

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcz17/benchram/driver"
	"github.com/kcz17/benchram/ingestion"
)

// stubReader returns one batch per latency, then ErrEndOfData or err.
type stubReader struct {
	latencies    []int64
	err          error
	embeddedUsed bool
}

func (r *stubReader) Read(context.Context) ([]byte, error) {
	return nil, driver.ErrEndOfData
}

func (r *stubReader) RecordBatch(_ context.Context, n int64) (*ingestion.SampleBatch, error) {
	if len(r.latencies) == 0 {
		if r.err != nil {
			return nil, r.err
		}
		return nil, driver.ErrEndOfData
	}
	latency := r.latencies[0]
	r.latencies = r.latencies[1:]
	return &ingestion.SampleBatch{
		WorkerID:  "w1",
		StartTime: 1000,
		EndTime:   1000 + latency,
		Bytes:     n * 10,
		Records:   n,
	}, nil
}

func (r *stubReader) RecordBatchWithEmbeddedTime(ctx context.Context, n int64) (*ingestion.SampleBatch, error) {
	r.embeddedUsed = true
	return r.RecordBatch(ctx, n)
}

func (r *stubReader) Close() error { return nil }

type collectingSubmitter struct {
	batches []*ingestion.SampleBatch
	err     error
}

func (s *collectingSubmitter) Submit(_ context.Context, b *ingestion.SampleBatch) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, b)
	return nil
}

var benchmarkParameters = ingestion.SessionParameters{MinLatency: 5, MaxLatency: 100, Percentiles: []float64{0.5}}

func TestBenchmark_Run_FiltersOutOfRangeAndEndsOnEndOfData(t *testing.T) {
	reader := &stubReader{latencies: []int64{10, 500, 2, 100}}
	submitter := &collectingSubmitter{}
	b, err := NewBenchmark(&BenchmarkOptions{
		Reader:     reader,
		Submitter:  submitter,
		Parameters: benchmarkParameters,
		BatchSize:  4,
	})
	require.NoError(t, err)

	require.NoError(t, b.Run(context.Background()))

	require.Len(t, submitter.batches, 2)
	assert.Equal(t, int64(10), submitter.batches[0].Latency())
	assert.Equal(t, int64(100), submitter.batches[1].Latency())
	submitted, filtered := b.Records()
	assert.Equal(t, int64(8), submitted)
	assert.Equal(t, int64(8), filtered)
}

func TestBenchmark_Run_EmbeddedTime(t *testing.T) {
	reader := &stubReader{latencies: []int64{10}}
	b, err := NewBenchmark(&BenchmarkOptions{
		Reader:       reader,
		Submitter:    &collectingSubmitter{},
		Parameters:   benchmarkParameters,
		BatchSize:    1,
		EmbeddedTime: true,
	})
	require.NoError(t, err)
	require.NoError(t, b.Run(context.Background()))
	assert.True(t, reader.embeddedUsed)
}

func TestBenchmark_Run_ReturnsDriverFault(t *testing.T) {
	b, err := NewBenchmark(&BenchmarkOptions{
		Reader:     &stubReader{err: errors.New("transaction aborted")},
		Submitter:  &collectingSubmitter{},
		Parameters: benchmarkParameters,
		BatchSize:  1,
	})
	require.NoError(t, err)

	err = b.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transaction aborted")
}

func TestBenchmark_Run_ReturnsSubmitFault(t *testing.T) {
	b, err := NewBenchmark(&BenchmarkOptions{
		Reader:     &stubReader{latencies: []int64{10}},
		Submitter:  &collectingSubmitter{err: errors.New("connection refused")},
		Parameters: benchmarkParameters,
		BatchSize:  1,
	})
	require.NoError(t, err)
	assert.EqualError(t, b.Run(context.Background()), "connection refused")
}

func TestBenchmark_Run_StopsOnCancelledContext(t *testing.T) {
	b, err := NewBenchmark(&BenchmarkOptions{
		Reader:     &stubReader{latencies: []int64{10, 10}},
		Submitter:  &collectingSubmitter{},
		Parameters: benchmarkParameters,
		BatchSize:  1,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, context.Canceled, b.Run(ctx))
}

func TestNewBenchmark_RejectsNonPositiveBatchSize(t *testing.T) {
	_, err := NewBenchmark(&BenchmarkOptions{BatchSize: 0})
	assert.Error(t, err)
}

package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcz17/benchram/clock"
)

func newTestSyntheticReader(records int64) *SyntheticReader {
	return NewSyntheticReader(&SyntheticReaderOptions{
		WorkerID:      "synthetic",
		RecordSize:    100,
		Records:       records,
		MeanLatency:   40,
		StdDevLatency: 10,
		MinLatency:    5,
		MaxLatency:    80,
		Seed:          1,
		Clock:         clock.NewSimulatedClock(),
	})
}

func TestSyntheticReader_RecordBatch_EndsAfterRecords(t *testing.T) {
	r := newTestSyntheticReader(25)

	var total int64
	for {
		batch, err := r.RecordBatch(context.Background(), 10)
		if err == ErrEndOfData {
			break
		}
		require.NoError(t, err)
		require.NoError(t, batch.Validate())
		assert.True(t, batch.Latency() >= 5 && batch.Latency() <= 80)
		assert.Equal(t, batch.Records*100, batch.Bytes)
		total += batch.Records
	}
	assert.Equal(t, int64(25), total)
}

func TestSyntheticReader_RecordBatchWithEmbeddedTime(t *testing.T) {
	r := newTestSyntheticReader(0)

	batch, err := r.RecordBatchWithEmbeddedTime(context.Background(), 50)
	require.NoError(t, err)
	require.NoError(t, batch.Validate())
	assert.Equal(t, int64(50), batch.Records)
	assert.True(t, batch.MinLatency <= batch.Latency())
	assert.True(t, batch.MinLatency >= 5)
}

func TestSyntheticReader_Read(t *testing.T) {
	r := newTestSyntheticReader(1)

	b, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Len(t, b, 100)
	_, err = PayloadTime(b)
	assert.NoError(t, err)

	_, err = r.Read(context.Background())
	assert.Equal(t, ErrEndOfData, err)
}

func TestSyntheticReader_CancelledContext(t *testing.T) {
	r := newTestSyntheticReader(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.RecordBatch(ctx, 1)
	assert.Equal(t, context.Canceled, err)
}

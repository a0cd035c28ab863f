package driver

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcz17/benchram/clock"
	"github.com/kcz17/benchram/ingestion"
)

type redisFixture struct {
	server *miniredis.Miniredis
	client *redis.Client
	clock  *clock.SimulatedClock
}

func newRedisFixture(t *testing.T) *redisFixture {
	server, err := miniredis.Run()
	require.NoError(t, err)
	return &redisFixture{
		server: server,
		client: redis.NewClient(&redis.Options{Addr: server.Addr()}),
		clock:  clock.NewSimulatedClock(),
	}
}

func (f *redisFixture) close() {
	f.client.Close()
	f.server.Close()
}

func (f *redisFixture) nowMs() int64 {
	return f.clock.Now().UnixNano() / int64(time.Millisecond)
}

func (f *redisFixture) reader(startKey, recordsPerReader int64) *RedisTransactionReader {
	return NewRedisTransactionReader(&RedisReaderOptions{
		Client:           f.client,
		KeyPrefix:        "bench",
		WorkerID:         "w1",
		StartKey:         startKey,
		RecordsPerReader: recordsPerReader,
		Clock:            f.clock,
	})
}

func TestRedisTransactionReader_RecordBatch_ShortReadReturnsAvailable(t *testing.T) {
	f := newRedisFixture(t)
	defer f.close()

	for _, key := range []string{"bench:100", "bench:101", "bench:102"} {
		require.NoError(t, f.server.Set(key, "0123456789"))
	}
	r := f.reader(100, 0)

	batch, err := r.RecordBatch(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(3), batch.Records)
	assert.Equal(t, int64(30), batch.Bytes)
	assert.Equal(t, "w1", batch.WorkerID)
	assert.Equal(t, f.nowMs(), batch.StartTime)
	assert.Equal(t, int64(103), r.Cursor())
	assert.NoError(t, batch.Validate())

	_, err = r.RecordBatch(context.Background(), 5)
	assert.Equal(t, ErrEndOfData, err)
	assert.Equal(t, int64(103), r.Cursor())
}

func TestRedisTransactionReader_RecordBatch_EmptyBackendIsEndOfData(t *testing.T) {
	f := newRedisFixture(t)
	defer f.close()

	_, err := f.reader(0, 0).RecordBatch(context.Background(), 10)
	assert.Equal(t, ErrEndOfData, err)
}

func TestRedisTransactionReader_RecordBatch_RespectsRecordsPerReader(t *testing.T) {
	f := newRedisFixture(t)
	defer f.close()

	for i := 0; i < 5; i++ {
		require.NoError(t, f.server.Set(recordKey("bench", int64(i)), "x"))
	}
	r := f.reader(0, 2)

	batch, err := r.RecordBatch(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), batch.Records)

	_, err = r.RecordBatch(context.Background(), 5)
	assert.Equal(t, ErrEndOfData, err)
}

func TestRedisTransactionReader_RecordBatchWithEmbeddedTime_StopsAtFirstMissingKey(t *testing.T) {
	f := newRedisFixture(t)
	defer f.close()

	now := f.nowMs()
	require.NoError(t, f.server.Set("bench:0", string(EncodePayload(now-30, 64))))
	require.NoError(t, f.server.Set("bench:1", string(EncodePayload(now-10, 64))))
	// bench:2 is missing, so bench:3 is not counted.
	require.NoError(t, f.server.Set("bench:3", string(EncodePayload(now-5, 64))))
	r := f.reader(0, 0)

	batch, err := r.RecordBatchWithEmbeddedTime(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(2), batch.Records)
	assert.Equal(t, int64(128), batch.Bytes)
	assert.Equal(t, now-30, batch.StartTime)
	assert.Equal(t, now, batch.EndTime)
	assert.Equal(t, int64(30), batch.Latency())
	assert.Equal(t, int64(10), batch.MinLatency)
	assert.Equal(t, int64(2), r.Cursor())
	assert.NoError(t, batch.Validate())

	_, err = r.RecordBatchWithEmbeddedTime(context.Background(), 4)
	assert.Equal(t, ErrEndOfData, err)
}

func TestRedisTransactionReader_Read(t *testing.T) {
	f := newRedisFixture(t)
	defer f.close()

	require.NoError(t, f.server.Set("bench:7", "hello"))
	r := f.reader(7, 0)

	b, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), b)
	assert.Equal(t, int64(8), r.Cursor())

	_, err = r.Read(context.Background())
	assert.Equal(t, ErrEndOfData, err)
}

func TestRedisTransactionReader_BackendFailureIsNotEndOfData(t *testing.T) {
	f := newRedisFixture(t)
	defer f.client.Close()
	f.server.Close()

	_, err := f.reader(0, 0).RecordBatch(context.Background(), 3)
	require.Error(t, err)
	assert.NotEqual(t, ErrEndOfData, err)
}

func TestRedisTransactionWriter_RecordsAreReadable(t *testing.T) {
	f := newRedisFixture(t)
	defer f.close()

	w := NewRedisTransactionWriter(&RedisWriterOptions{
		Client:     f.client,
		KeyPrefix:  "bench",
		WorkerID:   "w1",
		StartKey:   StartKey(1),
		RecordSize: 32,
		Clock:      f.clock,
	})
	batch, err := w.RecordBatch(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), batch.Records)
	assert.Equal(t, int64(128), batch.Bytes)

	f.clock.Advance(25 * time.Millisecond)
	read, err := f.reader(StartKey(1), 0).RecordBatchWithEmbeddedTime(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(4), read.Records)
	assert.Equal(t, int64(25), read.Latency())
}

func TestPayloadTime(t *testing.T) {
	ts, err := PayloadTime(EncodePayload(1234567890123, 100))
	require.NoError(t, err)
	assert.Equal(t, int64(1234567890123), ts)
	assert.Len(t, EncodePayload(1, 2), PayloadTimeBytes)

	_, err = PayloadTime([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestRedisTransactionReader_CommandErrorIsNotAShortRead(t *testing.T) {
	f := newRedisFixture(t)
	defer f.close()
	require.NoError(t, f.server.Set("bench:0", "first"))
	_, err := f.server.Lpush("bench:1", "not a string")
	require.NoError(t, err)
	require.NoError(t, f.server.Set("bench:2", "third"))

	reader := f.reader(0, 0)
	for _, read := range []func(context.Context, int64) (*ingestion.SampleBatch, error){
		reader.RecordBatch,
		reader.RecordBatchWithEmbeddedTime,
	} {
		_, err := read(context.Background(), 3)
		require.Error(t, err)
		assert.NotEqual(t, ErrEndOfData, err)
		assert.Contains(t, err.Error(), "bench:1")
	}
	assert.Equal(t, int64(0), reader.Cursor())
}

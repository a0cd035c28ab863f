package driver

import (
	"context"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/pkg/errors"

	"github.com/kcz17/benchram/clock"
	"github.com/kcz17/benchram/ingestion"
)

type RedisWriterOptions struct {
	Client    *redis.Client
	KeyPrefix string
	WorkerID  string
	StartKey  int64
	// RecordSize is the payload size in bytes, including the embedded
	// timestamp.
	RecordSize int
	// RecordsPerWriter caps the records written in total. Zero means
	// unlimited.
	RecordsPerWriter int64
	Clock            clock.Clock
}

// RedisTransactionWriter populates the key space a RedisTransactionReader
// reads. Every payload embeds the time it was written.
type RedisTransactionWriter struct {
	client           *redis.Client
	keyPrefix        string
	workerID         string
	recordSize       int
	recordsPerWriter int64
	clock            clock.Clock
	cursor           int64
	written          int64
}

func NewRedisTransactionWriter(options *RedisWriterOptions) *RedisTransactionWriter {
	c := options.Clock
	if c == nil {
		c = clock.NewRealtimeClock()
	}
	return &RedisTransactionWriter{
		client:           options.Client,
		keyPrefix:        options.KeyPrefix,
		workerID:         options.WorkerID,
		recordSize:       options.RecordSize,
		recordsPerWriter: options.RecordsPerWriter,
		clock:            c,
		cursor:           options.StartKey,
	}
}

// Write stores payload under the next key.
func (w *RedisTransactionWriter) Write(ctx context.Context, payload []byte) error {
	if err := w.client.WithContext(ctx).Set(w.key(w.cursor), payload, 0).Err(); err != nil {
		return errors.Wrapf(err, "could not write %s", w.key(w.cursor))
	}
	w.cursor++
	w.written++
	return nil
}

// RecordBatch writes up to n records in one transaction.
func (w *RedisTransactionWriter) RecordBatch(ctx context.Context, n int64) (*ingestion.SampleBatch, error) {
	n = batchSize(n, w.written, w.recordsPerWriter)
	if n <= 0 {
		return nil, ErrEndOfData
	}

	start := w.nowMs()
	_, err := w.client.WithContext(ctx).TxPipelined(func(pipe redis.Pipeliner) error {
		for i := int64(0); i < n; i++ {
			pipe.Set(w.key(w.cursor+i), EncodePayload(w.nowMs(), w.recordSize), 0)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "transaction writing %d records from %s failed", n, w.key(w.cursor))
	}
	end := w.nowMs()

	w.cursor += n
	w.written += n
	return &ingestion.SampleBatch{
		WorkerID:  w.workerID,
		StartTime: start,
		EndTime:   end,
		Bytes:     n * int64(payloadSize(w.recordSize)),
		Records:   n,
	}, nil
}

func (w *RedisTransactionWriter) Close() error {
	return nil
}

func (w *RedisTransactionWriter) key(id int64) string {
	return recordKey(w.keyPrefix, id)
}

func (w *RedisTransactionWriter) nowMs() int64 {
	return w.clock.Now().UnixNano() / int64(time.Millisecond)
}

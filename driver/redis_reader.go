package driver

import (
	"context"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/pkg/errors"

	"github.com/kcz17/benchram/clock"
	"github.com/kcz17/benchram/ingestion"
)

type RedisReaderOptions struct {
	Client    *redis.Client
	KeyPrefix string
	WorkerID  string
	// StartKey is the first key id read; see StartKey.
	StartKey int64
	// RecordsPerReader caps the records this reader reads in total. Zero
	// means unlimited.
	RecordsPerReader int64
	Clock            clock.Clock
}

// RedisTransactionReader reads records stored under "<prefix>:<id>" with
// consecutive ids. Each batch runs its GETs inside one MULTI/EXEC
// transaction.
type RedisTransactionReader struct {
	client           *redis.Client
	keyPrefix        string
	workerID         string
	recordsPerReader int64
	clock            clock.Clock
	// cursor is the next key id to read.
	cursor int64
	read   int64
}

func NewRedisTransactionReader(options *RedisReaderOptions) *RedisTransactionReader {
	c := options.Clock
	if c == nil {
		c = clock.NewRealtimeClock()
	}
	return &RedisTransactionReader{
		client:           options.Client,
		keyPrefix:        options.KeyPrefix,
		workerID:         options.WorkerID,
		recordsPerReader: options.RecordsPerReader,
		clock:            c,
		cursor:           options.StartKey,
	}
}

// Cursor is the next key id the reader will read.
func (r *RedisTransactionReader) Cursor() int64 {
	return r.cursor
}

func (r *RedisTransactionReader) Read(ctx context.Context) ([]byte, error) {
	b, err := r.client.WithContext(ctx).Get(r.key(r.cursor)).Bytes()
	if err == redis.Nil {
		return nil, ErrEndOfData
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", r.key(r.cursor))
	}
	r.cursor++
	r.read++
	return b, nil
}

func (r *RedisTransactionReader) RecordBatch(ctx context.Context, n int64) (*ingestion.SampleBatch, error) {
	n = batchSize(n, r.read, r.recordsPerReader)
	if n <= 0 {
		return nil, ErrEndOfData
	}

	start := r.nowMs()
	cmds, err := r.getAll(ctx, n)
	if err != nil {
		return nil, err
	}

	batch := &ingestion.SampleBatch{WorkerID: r.workerID, StartTime: start}
	for _, cmd := range cmds {
		b, err := cmd.Bytes()
		if err == redis.Nil {
			continue
		}
		batch.Bytes += int64(len(b))
		batch.Records++
	}
	batch.EndTime = r.nowMs()

	if batch.Records == 0 {
		return nil, ErrEndOfData
	}
	r.advance(batch.Records)
	return batch, nil
}

func (r *RedisTransactionReader) RecordBatchWithEmbeddedTime(ctx context.Context, n int64) (*ingestion.SampleBatch, error) {
	n = batchSize(n, r.read, r.recordsPerReader)
	if n <= 0 {
		return nil, ErrEndOfData
	}

	cmds, err := r.getAll(ctx, n)
	if err != nil {
		return nil, err
	}
	end := r.nowMs()

	batch := &ingestion.SampleBatch{WorkerID: r.workerID, EndTime: end}
	var latest int64
	for _, cmd := range cmds {
		b, err := cmd.Bytes()
		if err == redis.Nil {
			break
		}
		written, err := PayloadTime(b)
		if err != nil {
			return nil, errors.Wrapf(err, "could not read embedded time of %s", cmd.Args()[1])
		}
		if batch.Records == 0 {
			batch.StartTime = written
		}
		if written > latest {
			latest = written
		}
		batch.Bytes += int64(len(b))
		batch.Records++
	}

	if batch.Records == 0 {
		return nil, ErrEndOfData
	}
	if batch.StartTime > end {
		batch.StartTime = end
	}
	// The most recently written record has the smallest latency.
	batch.MinLatency = clampLatency(end-latest, batch.Latency())
	r.advance(batch.Records)
	return batch, nil
}

func (r *RedisTransactionReader) Close() error {
	return nil
}

// getAll runs n GETs from the cursor in one transaction. Missing keys are not
// an error; their commands carry redis.Nil. Any other command error fails the
// whole batch.
func (r *RedisTransactionReader) getAll(ctx context.Context, n int64) ([]*redis.StringCmd, error) {
	cmds := make([]*redis.StringCmd, 0, n)
	_, err := r.client.WithContext(ctx).TxPipelined(func(pipe redis.Pipeliner) error {
		for i := int64(0); i < n; i++ {
			cmds = append(cmds, pipe.Get(r.key(r.cursor+i)))
		}
		return nil
	})
	for _, cmd := range cmds {
		if cmdErr := cmd.Err(); cmdErr != nil && cmdErr != redis.Nil {
			return nil, errors.Wrapf(cmdErr, "transaction reading %d records from %s failed at %s", n, r.key(r.cursor), cmd.Args()[1])
		}
	}
	if err != nil && err != redis.Nil {
		return nil, errors.Wrapf(err, "transaction reading %d records from %s failed", n, r.key(r.cursor))
	}
	return cmds, nil
}

func (r *RedisTransactionReader) advance(records int64) {
	r.cursor += records
	r.read += records
}

func (r *RedisTransactionReader) key(id int64) string {
	return recordKey(r.keyPrefix, id)
}

func (r *RedisTransactionReader) nowMs() int64 {
	return r.clock.Now().UnixNano() / int64(time.Millisecond)
}

func clampLatency(latency, upper int64) int64 {
	if latency < 0 {
		return 0
	}
	if latency > upper {
		return upper
	}
	return latency
}

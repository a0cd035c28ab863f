// Package worker runs the benchmark loop on a worker host and delivers its
// samples to a remote session.
package worker

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kcz17/benchram/driver"
	"github.com/kcz17/benchram/ingestion"
)

type BenchmarkOptions struct {
	Reader    driver.Reader
	Submitter Submitter
	// Parameters are the session's, normally fetched with
	// HTTPClient.Parameters. Batches outside the latency range are not
	// submitted.
	Parameters ingestion.SessionParameters
	BatchSize  int64
	// EmbeddedTime measures latency from the time embedded in each payload
	// rather than around the read.
	EmbeddedTime bool
}

type Benchmark struct {
	reader       driver.Reader
	submitter    Submitter
	parameters   ingestion.SessionParameters
	batchSize    int64
	embeddedTime bool

	submittedRecords int64
	filteredRecords  int64
}

func NewBenchmark(options *BenchmarkOptions) (*Benchmark, error) {
	if options.BatchSize <= 0 {
		return nil, errors.Errorf("NewBenchmark() expected batch size > 0; got %d", options.BatchSize)
	}
	return &Benchmark{
		reader:       options.Reader,
		submitter:    options.Submitter,
		parameters:   options.Parameters,
		batchSize:    options.BatchSize,
		embeddedTime: options.EmbeddedTime,
	}, nil
}

// Run records batches until the reader reaches the end of its data, which
// returns nil. A driver or submission failure is returned and ends the run.
func (b *Benchmark) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := b.record(ctx)
		if err == driver.ErrEndOfData {
			log.WithFields(log.Fields{
				"submitted": b.submittedRecords,
				"filtered":  b.filteredRecords,
			}).Info("worker reached end of data")
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "could not record batch")
		}

		if !b.parameters.InRange(batch.Latency()) {
			b.filteredRecords += batch.Records
			continue
		}
		if err := b.submitter.Submit(ctx, batch); err != nil {
			return err
		}
		b.submittedRecords += batch.Records
	}
}

// Records returns how many records were submitted and how many were dropped
// for falling outside the session's latency range.
func (b *Benchmark) Records() (submitted, filtered int64) {
	return b.submittedRecords, b.filteredRecords
}

func (b *Benchmark) record(ctx context.Context) (*ingestion.SampleBatch, error) {
	if b.embeddedTime {
		return b.reader.RecordBatchWithEmbeddedTime(ctx, b.batchSize)
	}
	return b.reader.RecordBatch(ctx, b.batchSize)
}

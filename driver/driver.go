// Package driver defines the contract storage backends implement to take part
// in a benchmark, and the backends shipped with benchram.
package driver

import (
	"context"
	"encoding/binary"
	"math"
	"strconv"

	"github.com/pkg/errors"

	"github.com/kcz17/benchram/ingestion"
)

// ErrEndOfData is returned once a reader has nothing left to read. It ends
// the worker normally and is not a fault.
var ErrEndOfData = errors.New("end of data")

// PayloadTimeBytes is the size of the timestamp embedded at the head of every
// payload written by EncodePayload.
const PayloadTimeBytes = 8

type Reader interface {
	// Read returns the next record, or ErrEndOfData.
	Read(ctx context.Context) ([]byte, error)
	// RecordBatch reads up to n records inside one transaction and reports
	// the wall-clock time the transaction took.
	RecordBatch(ctx context.Context, n int64) (*ingestion.SampleBatch, error)
	// RecordBatchWithEmbeddedTime is RecordBatch with the batch start taken
	// from the timestamp embedded in the first record read, so latency spans
	// from write to read.
	RecordBatchWithEmbeddedTime(ctx context.Context, n int64) (*ingestion.SampleBatch, error)
	Close() error
}

// StartKey is the first key of worker id, leaving each worker its own key
// space.
func StartKey(id int) int64 {
	return int64(id) * math.MaxInt32
}

// EncodePayload returns a payload of size bytes (at least PayloadTimeBytes)
// beginning with timestampMs in big-endian order.
func EncodePayload(timestampMs int64, size int) []byte {
	size = payloadSize(size)
	b := make([]byte, size)
	binary.BigEndian.PutUint64(b, uint64(timestampMs))
	for i := PayloadTimeBytes; i < size; i++ {
		b[i] = byte('a' + i%26)
	}
	return b
}

// PayloadTime extracts the timestamp written by EncodePayload.
func PayloadTime(b []byte) (int64, error) {
	if len(b) < PayloadTimeBytes {
		return 0, errors.Errorf("payload of %d bytes too short for an embedded timestamp", len(b))
	}
	return int64(binary.BigEndian.Uint64(b[:PayloadTimeBytes])), nil
}

// batchSize bounds n by what remains of a per-reader cap. A cap of zero means
// unlimited.
func batchSize(n, read, recordsPerReader int64) int64 {
	if recordsPerReader > 0 && recordsPerReader-read < n {
		return recordsPerReader - read
	}
	return n
}

func payloadSize(size int) int {
	if size < PayloadTimeBytes {
		return PayloadTimeBytes
	}
	return size
}

func recordKey(prefix string, id int64) string {
	return prefix + ":" + strconv.FormatInt(id, 10)
}

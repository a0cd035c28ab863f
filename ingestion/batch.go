package ingestion

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// ErrInvalidBatch is returned for batches with a malformed shape.
var ErrInvalidBatch = errors.New("invalid sample batch")

// SampleBatch is one unit of ingestion reported by a worker. Times are
// milliseconds since the Unix epoch and the batch latency is EndTime -
// StartTime, shared by all Records in the batch.
type SampleBatch struct {
	WorkerID  string `json:"workerId" validate:"required"`
	StartTime int64  `json:"startTime" validate:"gte=0"`
	EndTime   int64  `json:"endTime" validate:"gtefield=StartTime"`
	Bytes     int64  `json:"bytes" validate:"gte=0"`
	Records   int64  `json:"records" validate:"gte=0"`
	// MinLatency is the smallest per-record latency inside the batch, or 0 if
	// the worker does not track it.
	MinLatency int64 `json:"minLatency" validate:"gte=0"`
}

// Latency is the time between the start and end of the batch.
func (b *SampleBatch) Latency() int64 {
	return b.EndTime - b.StartTime
}

var validate = validator.New()

// Validate checks the batch has non-empty identifiers, non-negative counts
// and monotonic timestamps.
func (b *SampleBatch) Validate() error {
	if b == nil {
		return errors.Wrap(ErrInvalidBatch, "batch is nil")
	}
	if err := validate.Struct(b); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			return errors.Wrap(ErrInvalidBatch, describe(fieldErrs))
		}
		return errors.Wrap(ErrInvalidBatch, err.Error())
	}
	if b.MinLatency > b.Latency() {
		return errors.Wrapf(ErrInvalidBatch, "minLatency %d exceeds batch latency %d", b.MinLatency, b.Latency())
	}
	return nil
}

func describe(fieldErrs validator.ValidationErrors) string {
	msg := ""
	for i, fieldErr := range fieldErrs {
		if i > 0 {
			msg += ", "
		}
		msg += fmt.Sprintf("%s failed %s", fieldErr.Field(), fieldErr.Tag())
	}
	return msg
}

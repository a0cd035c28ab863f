package ingestion

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrQueueClosed is returned by Push once the queue stops accepting batches.
var ErrQueueClosed = errors.New("ingestion queue closed")

// Queue is an unbounded multi-producer, single-consumer buffer of sample
// batches. Push never blocks; the consumer waits on Ready and takes
// everything queued with Drain. Order is preserved per producer.
type Queue struct {
	// batches is guarded by batchesMux as producers are request handlers
	// running on their own goroutines.
	batches    []*SampleBatch
	batchesMux *sync.Mutex
	closed     bool
	// ready holds at most one pending wakeup for the consumer.
	ready chan struct{}
}

func NewQueue() *Queue {
	return &Queue{
		batches:    []*SampleBatch{},
		batchesMux: &sync.Mutex{},
		ready:      make(chan struct{}, 1),
	}
}

func (q *Queue) Push(b *SampleBatch) error {
	q.batchesMux.Lock()
	if q.closed {
		q.batchesMux.Unlock()
		return ErrQueueClosed
	}
	q.batches = append(q.batches, b)
	q.batchesMux.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Drain removes and returns every batch queued so far.
func (q *Queue) Drain() []*SampleBatch {
	q.batchesMux.Lock()
	defer q.batchesMux.Unlock()

	if len(q.batches) == 0 {
		return nil
	}
	drained := q.batches
	q.batches = []*SampleBatch{}
	return drained
}

// Ready signals the consumer that at least one Push happened since it last
// received from the channel.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

func (q *Queue) Len() int {
	q.batchesMux.Lock()
	defer q.batchesMux.Unlock()
	return len(q.batches)
}

// Close rejects further pushes. Batches already queued can still be drained.
func (q *Queue) Close() {
	q.batchesMux.Lock()
	q.closed = true
	q.batchesMux.Unlock()
}

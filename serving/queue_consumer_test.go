package serving

import (
	"testing"

	"github.com/adjust/rmq/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcz17/benchram/ingestion"
)

func newTestConsumer() (*QueueConsumer, *ingestion.Queue) {
	queue := ingestion.NewQueue()
	return &QueueConsumer{queue: queue, metrics: newIngestionMetrics(queue)}, queue
}

func TestQueueConsumer_Consume(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantState  rmq.State
		wantQueued int
	}{
		{
			name:       "Valid batch is acked and queued",
			payload:    `{"workerId":"w1","startTime":100,"endTime":130,"bytes":10,"records":2}`,
			wantState:  rmq.Acked,
			wantQueued: 1,
		},
		{
			name:      "Invalid batch is rejected",
			payload:   `{"workerId":"w1","startTime":130,"endTime":100,"bytes":10,"records":2}`,
			wantState: rmq.Rejected,
		},
		{
			name:      "Undecodable payload is rejected",
			payload:   `not json`,
			wantState: rmq.Rejected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			consumer, queue := newTestConsumer()
			delivery := rmq.NewTestDeliveryString(tt.payload)

			consumer.Consume(delivery)

			assert.Equal(t, tt.wantState, delivery.State)
			assert.Equal(t, tt.wantQueued, queue.Len())
		})
	}
}

func TestQueueConsumer_Consume_ClosedQueueRejects(t *testing.T) {
	consumer, queue := newTestConsumer()
	queue.Close()

	delivery := rmq.NewTestDeliveryString(`{"workerId":"w1","startTime":100,"endTime":130,"bytes":10,"records":2}`)
	consumer.Consume(delivery)
	assert.Equal(t, rmq.Rejected, delivery.State)
}

func TestQueueConsumer_Consume_PreservesBatchFields(t *testing.T) {
	consumer, queue := newTestConsumer()
	consumer.Consume(rmq.NewTestDeliveryString(`{"workerId":"w7","startTime":100,"endTime":130,"bytes":10,"records":2,"minLatency":12}`))

	batches := queue.Drain()
	require.Len(t, batches, 1)
	assert.Equal(t, &ingestion.SampleBatch{
		WorkerID:   "w7",
		StartTime:  100,
		EndTime:    130,
		Bytes:      10,
		Records:    2,
		MinLatency: 12,
	}, batches[0])
}

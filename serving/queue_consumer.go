package serving

import (
	"encoding/json"
	"time"

	"github.com/adjust/rmq/v3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kcz17/benchram/ingestion"
)

const transportQueue = "queue"

// QueueConsumer takes JSON sample batches off a Redis queue and pushes them
// onto the same ingestion queue as the HTTP endpoint. Valid deliveries are
// acked and invalid ones rejected, so a malformed batch is never retried.
type QueueConsumer struct {
	rmqQueue      rmq.Queue
	queue         *ingestion.Queue
	metrics       *ingestionMetrics
	prefetchLimit int64
	pollDuration  time.Duration
	isStarted     bool
}

// NewQueueConsumer opens queueName on connection. Accepted and rejected
// deliveries are counted on the server's metrics under the "queue" transport.
func (s *IngestionServer) NewQueueConsumer(connection rmq.Connection, queueName string) (*QueueConsumer, error) {
	rmqQueue, err := connection.OpenQueue(queueName)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open queue %s", queueName)
	}

	return &QueueConsumer{
		rmqQueue:      rmqQueue,
		queue:         s.queue,
		metrics:       s.metrics,
		prefetchLimit: 100,
		pollDuration:  100 * time.Millisecond,
	}, nil
}

func (c *QueueConsumer) Start() error {
	if c.isStarted {
		return errors.New("QueueConsumer.Start() failed: consumer already started")
	}
	if err := c.rmqQueue.StartConsuming(c.prefetchLimit, c.pollDuration); err != nil {
		return errors.Wrap(err, "could not start consuming")
	}
	if _, err := c.rmqQueue.AddConsumer("benchram-ingestion", c); err != nil {
		return errors.Wrap(err, "could not add queue consumer")
	}
	c.isStarted = true
	return nil
}

// Stop waits for in-flight deliveries to finish.
func (c *QueueConsumer) Stop() {
	if !c.isStarted {
		return
	}
	<-c.rmqQueue.StopConsuming()
}

func (c *QueueConsumer) Consume(delivery rmq.Delivery) {
	var batch ingestion.SampleBatch
	err := json.Unmarshal([]byte(delivery.Payload()), &batch)
	reason := "decode"
	if err == nil {
		err = batch.Validate()
		reason = "invalid"
	}
	if err == nil {
		err = c.queue.Push(&batch)
		reason = "closed"
	}

	if err != nil {
		c.metrics.rejected(transportQueue, reason)
		log.WithError(err).WithField("reason", reason).Warn("rejecting queued sample batch")
		if rejectErr := delivery.Reject(); rejectErr != nil {
			log.WithError(rejectErr).Error("could not reject queued sample batch")
		}
		return
	}

	c.metrics.accepted(transportQueue, &batch)
	if ackErr := delivery.Ack(); ackErr != nil {
		log.WithError(ackErr).Error("could not ack queued sample batch")
	}
}

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adjust/rmq/v3"
	"github.com/jamiealquiza/tachymeter"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"

	"github.com/kcz17/benchram/ingestion"
)

const defaultRequestTimeout = 5 * time.Second

// Submitter delivers sample batches to the ingestion service.
type Submitter interface {
	Submit(ctx context.Context, b *ingestion.SampleBatch) error
}

// HTTPClient talks to an ingestion server over HTTP. Submission is fire and
// forget: an accepted ack only means the batch was queued.
type HTTPClient struct {
	client  *fasthttp.Client
	baseURL string
	// submitLatency records the round trip of every acknowledged submission.
	submitLatency *tachymeter.Tachymeter
}

func NewHTTPClient(addr string, latencyWindow int) *HTTPClient {
	return &HTTPClient{
		client:        &fasthttp.Client{Name: "benchram-worker"},
		baseURL:       fmt.Sprintf("http://%s", addr),
		submitLatency: tachymeter.New(&tachymeter.Config{Size: latencyWindow}),
	}
}

// Parameters fetches the session's latency range and percentiles.
func (c *HTTPClient) Parameters(ctx context.Context) (*ingestion.SessionParameters, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + "/parameters")
	if err := c.client.DoTimeout(req, resp, timeoutFor(ctx)); err != nil {
		return nil, errors.Wrap(err, "could not fetch session parameters")
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, errors.Errorf("fetching session parameters returned status %d", resp.StatusCode())
	}

	var parameters ingestion.SessionParameters
	if err := json.Unmarshal(resp.Body(), &parameters); err != nil {
		return nil, errors.Wrap(err, "could not decode session parameters")
	}
	return &parameters, nil
}

func (c *HTTPClient) Submit(ctx context.Context, b *ingestion.SampleBatch) error {
	body, err := json.Marshal(b)
	if err != nil {
		return errors.Wrap(err, "could not marshal sample batch")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetRequestURI(c.baseURL + "/submit")
	req.SetBody(body)

	start := time.Now()
	if err := c.client.DoTimeout(req, resp, timeoutFor(ctx)); err != nil {
		return errors.Wrap(err, "could not submit sample batch")
	}
	if resp.StatusCode() != fasthttp.StatusAccepted {
		var ack struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(resp.Body(), &ack)
		return errors.Errorf("sample batch rejected with status %d: %s", resp.StatusCode(), ack.Error)
	}
	c.submitLatency.AddTime(time.Since(start))
	return nil
}

// SubmitLatency summarises acknowledged submission round trips.
func (c *HTTPClient) SubmitLatency() *tachymeter.Metrics {
	return c.submitLatency.Calc()
}

func timeoutFor(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}
	return defaultRequestTimeout
}

// QueuePublisher delivers batches through a Redis queue consumed by the
// ingestion server.
type QueuePublisher struct {
	queue rmq.Queue
}

func NewQueuePublisher(connection rmq.Connection, queueName string) (*QueuePublisher, error) {
	queue, err := connection.OpenQueue(queueName)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open queue %s", queueName)
	}
	return &QueuePublisher{queue: queue}, nil
}

func (p *QueuePublisher) Submit(_ context.Context, b *ingestion.SampleBatch) error {
	body, err := json.Marshal(b)
	if err != nil {
		return errors.Wrap(err, "could not marshal sample batch")
	}
	if err := p.queue.PublishBytes(body); err != nil {
		return errors.Wrap(err, "could not publish sample batch")
	}
	return nil
}

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/klauspost/compress/snappy"
	"github.com/nats-io/nats.go"

	"github.com/practicepy/grader/api"
)

// QueueDispatcher submits jobs to an SQS queue and receives results over a
// NATS reply subject. SQS gives the at-least-once delivery and redelivery
// after worker crashes; NATS carries the transient result back to whichever
// process is waiting.
type QueueDispatcher struct {
	sqsClient *sqs.Client
	queueUrl  string
	nc        *nats.Conn
}

func NewQueueDispatcher(sqsClient *sqs.Client, queueUrl string, nc *nats.Conn) *QueueDispatcher {
	return &QueueDispatcher{
		sqsClient: sqsClient,
		queueUrl:  queueUrl,
		nc:        nc,
	}
}

type queueHandle struct {
	jobUuid string
	sub     *nats.Subscription
}

func (h *queueHandle) JobUuid() string { return h.jobUuid }

func (d *QueueDispatcher) Submit(ctx context.Context, job api.Job) (Handle, error) {
	if job.JobUuid == "" {
		job.JobUuid = uuid.NewString()
	}
	job.ReplySubject = api.ResultSubject(job.JobUuid)

	// Subscribe before sending so a fast worker cannot publish into the void.
	sub, err := d.nc.SubscribeSync(job.ReplySubject)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to reply subject: %w", err)
	}

	body, err := json.Marshal(job)
	if err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = d.sqsClient.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueUrl),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return &queueHandle{jobUuid: job.JobUuid, sub: sub}, nil
}

func (d *QueueDispatcher) Await(h Handle, expiry time.Duration) (api.Result, error) {
	qh, ok := h.(*queueHandle)
	if !ok {
		return api.Result{}, fmt.Errorf("foreign handle type %T", h)
	}
	defer qh.sub.Unsubscribe()

	msg, err := qh.sub.NextMsg(expiry)
	if err != nil {
		if err == nats.ErrTimeout {
			return api.Result{}, ErrJobExpired
		}
		return api.Result{}, fmt.Errorf("failed to receive result: %w", err)
	}

	return decodeResult(msg.Data)
}

// encodeResult and decodeResult frame results as snappy-compressed JSON;
// tracebacks compress well and 64 KiB messages are common.
func encodeResult(res api.Result) ([]byte, error) {
	b, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return snappy.Encode(nil, b), nil
}

func decodeResult(data []byte) (api.Result, error) {
	decoded, err := snappy.Decode(nil, data)
	if err != nil {
		return api.Result{}, fmt.Errorf("failed to decompress result: %w", err)
	}
	var res api.Result
	if err := json.Unmarshal(decoded, &res); err != nil {
		return api.Result{}, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return res, nil
}

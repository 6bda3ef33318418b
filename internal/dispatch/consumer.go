package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/practicepy/grader/api"
)

// CompletionFunc is invoked after a job has been graded, before the queue
// message is deleted. The persistence/publish side effects live behind it so
// the consumer stays a pure pipeline.
type CompletionFunc func(ctx context.Context, job api.Job, res api.Result)

// QueueAPI is the slice of the SQS client the consumer uses.
type QueueAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Grader grades one job of either kind. *grader.Runner satisfies it.
type Grader interface {
	CheckAnswer(ctx context.Context, job api.Job) api.Result
	RunSnippet(ctx context.Context, job api.Job) api.Result
}

// PublishFunc sends one result frame to a reply subject.
// (*nats.Conn).Publish satisfies it.
type PublishFunc func(subject string, data []byte) error

// Consumer is the worker side of the dispatcher: it long-polls the queue and
// grades one job at a time. The sandbox is heavyweight, so concurrency comes
// from running more worker processes, never from concurrent jobs in one.
type Consumer struct {
	queue    QueueAPI
	queueUrl string
	publish  PublishFunc
	grader   Grader
	complete CompletionFunc
}

func NewConsumer(queue QueueAPI, queueUrl string, publish PublishFunc, grader Grader, complete CompletionFunc) *Consumer {
	return &Consumer{
		queue:    queue,
		queueUrl: queueUrl,
		publish:  publish,
		grader:   grader,
		complete: complete,
	}
}

// Run consumes jobs until ctx is cancelled. The message is deleted only after
// grading and completion: a crash mid-job leads to redelivery, which is safe
// because every attempt gets a fresh scratch directory.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		output, err := c.queue.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueUrl),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     5,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("failed to receive messages", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, message := range output.Messages {
			var job api.Job
			if err := json.Unmarshal([]byte(aws.ToString(message.Body)), &job); err != nil {
				slog.Error("failed to unmarshal job, dropping", "error", err)
				c.deleteMessage(ctx, message.ReceiptHandle)
				continue
			}

			slog.Info("grading job", "job", job.JobUuid, "kind", job.Kind)
			res := c.grade(ctx, job)
			if ctx.Err() != nil {
				// Shutdown killed the sandbox mid-run, so the result reflects
				// the kill, not the code. Say nothing, store nothing, and
				// leave the message for redelivery.
				slog.Warn("shutdown interrupted job, leaving for redelivery", "job", job.JobUuid)
				return nil
			}
			slog.Info("job graded",
				"job", job.JobUuid,
				"outcome", res.Outcome,
				"verdict", res.Verdict,
				"wall_millis", res.WallMillis)

			c.publishResult(job, res)
			if c.complete != nil {
				c.complete(ctx, job, res)
			}
			c.deleteMessage(ctx, message.ReceiptHandle)
		}
	}
}

func (c *Consumer) grade(ctx context.Context, job api.Job) api.Result {
	if job.Kind == api.JobKindSnippet {
		return c.grader.RunSnippet(ctx, job)
	}
	return c.grader.CheckAnswer(ctx, job)
}

func (c *Consumer) publishResult(job api.Job, res api.Result) {
	if job.ReplySubject == "" {
		return
	}
	data, err := encodeResult(res)
	if err != nil {
		slog.Error("failed to encode result", "job", job.JobUuid, "error", err)
		return
	}
	// Best effort: the submitter may have expired and unsubscribed already;
	// the completion callback's database write is what is authoritative.
	if err := c.publish(job.ReplySubject, data); err != nil {
		slog.Warn("failed to publish result", "job", job.JobUuid, "error", err)
	}
}

func (c *Consumer) deleteMessage(ctx context.Context, receiptHandle *string) {
	_, err := c.queue.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueUrl),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		slog.Error("failed to delete message", "error", err)
	}
}

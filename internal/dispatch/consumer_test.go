package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/require"

	"github.com/practicepy/grader/api"
)

// fakeQueue hands out its messages one at a time, then cancels the consumer's
// context so Run terminates deterministically.
type fakeQueue struct {
	mu       sync.Mutex
	messages []string
	deleted  []string
	drained  context.CancelFunc
}

func (q *fakeQueue) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		q.drained()
		return nil, context.Canceled
	}
	body := q.messages[0]
	q.messages = q.messages[1:]
	return &sqs.ReceiveMessageOutput{Messages: []types.Message{{
		Body:          aws.String(body),
		ReceiptHandle: aws.String("receipt-" + body[:min(8, len(body))]),
	}}}, nil
}

func (q *fakeQueue) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (q *fakeQueue) deletedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.deleted)
}

type fakeGrader struct {
	res   api.Result
	onRun func()
}

func (g *fakeGrader) CheckAnswer(context.Context, api.Job) api.Result {
	if g.onRun != nil {
		g.onRun()
	}
	return g.res
}

func (g *fakeGrader) RunSnippet(context.Context, api.Job) api.Result {
	if g.onRun != nil {
		g.onRun()
	}
	return g.res
}

type published struct {
	subject string
	data    []byte
}

func consumerFixture(t *testing.T, bodies []string, g *fakeGrader) (*Consumer, *fakeQueue, *[]published, *[]api.Result, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	queue := &fakeQueue{messages: bodies, drained: cancel}

	var mu sync.Mutex
	pushes := &[]published{}
	publish := func(subject string, data []byte) error {
		mu.Lock()
		defer mu.Unlock()
		*pushes = append(*pushes, published{subject: subject, data: data})
		return nil
	}

	completions := &[]api.Result{}
	complete := func(_ context.Context, _ api.Job, res api.Result) {
		mu.Lock()
		defer mu.Unlock()
		*completions = append(*completions, res)
	}

	return NewConsumer(queue, "https://sqs.example/q", publish, g, complete), queue, pushes, completions, ctx
}

func jobBody(t *testing.T, job api.Job) string {
	t.Helper()
	b, err := json.Marshal(job)
	require.NoError(t, err)
	return string(b)
}

func TestConsumerGradesPublishesCompletesDeletes(t *testing.T) {
	g := &fakeGrader{res: api.Result{
		JobUuid: "j1",
		Verdict: true,
		Message: "ok",
		Outcome: api.OutcomeChecked,
	}}
	body := jobBody(t, api.Job{
		JobUuid:      "j1",
		Kind:         api.JobKindAnswer,
		ReplySubject: api.ResultSubject("j1"),
	})
	c, queue, pushes, completions, ctx := consumerFixture(t, []string{body}, g)

	require.NoError(t, c.Run(ctx))

	require.Len(t, *pushes, 1)
	require.Equal(t, api.ResultSubject("j1"), (*pushes)[0].subject)
	res, err := decodeResult((*pushes)[0].data)
	require.NoError(t, err)
	require.Equal(t, g.res, res)

	require.Len(t, *completions, 1)
	require.Equal(t, 1, queue.deletedCount())
}

func TestConsumerShutdownMidJobLeavesMessageForRedelivery(t *testing.T) {
	// A shutdown signal kills the sandbox; the grader then reports the kill
	// as an internal error. None of that may reach the student or the store,
	// and the queue message must survive for redelivery.
	var cancel context.CancelFunc
	g := &fakeGrader{
		res: api.Result{
			JobUuid: "j2",
			Verdict: false,
			Message: context.Canceled.Error(),
			Outcome: api.OutcomeInternalError,
		},
		onRun: func() { cancel() },
	}
	body := jobBody(t, api.Job{
		JobUuid:      "j2",
		Kind:         api.JobKindAnswer,
		ReplySubject: api.ResultSubject("j2"),
	})
	c, queue, pushes, completions, ctx := consumerFixture(t, []string{body}, g)
	ctx, cancel = context.WithCancel(ctx)
	defer cancel()

	require.NoError(t, c.Run(ctx))

	require.Empty(t, *pushes)
	require.Empty(t, *completions)
	require.Equal(t, 0, queue.deletedCount())
}

func TestConsumerDropsMalformedMessages(t *testing.T) {
	graded := false
	g := &fakeGrader{onRun: func() { graded = true }}
	c, queue, pushes, completions, ctx := consumerFixture(t, []string{"{not json"}, g)

	require.NoError(t, c.Run(ctx))

	require.False(t, graded)
	require.Empty(t, *pushes)
	require.Empty(t, *completions)
	require.Equal(t, 1, queue.deletedCount())
}

func TestConsumerReceiveErrorDoesNotStopRun(t *testing.T) {
	// Transient receive failures are logged and retried; only context
	// cancellation ends the loop.
	calls := 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &flakyQueue{err: errors.New("throttled"), onSecondCall: cancel, calls: &calls}
	c := NewConsumer(queue, "https://sqs.example/q", nil, &fakeGrader{}, nil)

	require.NoError(t, c.Run(ctx))
	require.GreaterOrEqual(t, calls, 2)
}

type flakyQueue struct {
	err          error
	onSecondCall context.CancelFunc
	calls        *int
}

func (q *flakyQueue) ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	*q.calls++
	if *q.calls >= 2 {
		q.onSecondCall()
	}
	return nil, q.err
}

func (q *flakyQueue) DeleteMessage(context.Context, *sqs.DeleteMessageInput, ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	return &sqs.DeleteMessageOutput{}, nil
}

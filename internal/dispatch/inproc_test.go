package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/practicepy/grader/api"
)

func TestInprocSubmitAwait(t *testing.T) {
	grade := func(ctx context.Context, job api.Job) api.Result {
		return api.Result{JobUuid: job.JobUuid, Verdict: true, Message: "ok"}
	}

	d := NewInprocDispatcher(grade, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	h, err := d.Submit(ctx, api.Job{Kind: api.JobKindAnswer, SourceCode: "x = 1"})
	require.NoError(t, err)
	require.NotEmpty(t, h.JobUuid())

	res, err := d.Await(h, 5*time.Second)
	require.NoError(t, err)
	require.True(t, res.Verdict)
	require.Equal(t, "ok", res.Message)
	require.Equal(t, h.JobUuid(), res.JobUuid)
}

func TestInprocAwaitExpiry(t *testing.T) {
	grade := func(ctx context.Context, job api.Job) api.Result {
		time.Sleep(time.Second)
		return api.Result{}
	}

	d := NewInprocDispatcher(grade, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	h, err := d.Submit(ctx, api.Job{Kind: api.JobKindAnswer})
	require.NoError(t, err)

	_, err = d.Await(h, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrJobExpired)
}

func TestInprocCompletionCallbackRuns(t *testing.T) {
	grade := func(ctx context.Context, job api.Job) api.Result {
		return api.Result{JobUuid: job.JobUuid, Verdict: false, Message: "nope"}
	}

	var mu sync.Mutex
	var completed []api.Result
	complete := func(ctx context.Context, job api.Job, res api.Result) {
		mu.Lock()
		completed = append(completed, res)
		mu.Unlock()
	}

	d := NewInprocDispatcher(grade, complete)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	h, err := d.Submit(ctx, api.Job{Kind: api.JobKindAnswer})
	require.NoError(t, err)
	res, err := d.Await(h, 5*time.Second)
	require.NoError(t, err)
	require.False(t, res.Verdict)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(completed) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInprocJobsCompleteIndependently(t *testing.T) {
	// A slow job ahead in the queue delays a later one (single worker), but
	// each handle resolves with its own result.
	grade := func(ctx context.Context, job api.Job) api.Result {
		if job.Kind == api.JobKindAnswer {
			time.Sleep(100 * time.Millisecond)
		}
		return api.Result{JobUuid: job.JobUuid, Message: job.Kind}
	}

	d := NewInprocDispatcher(grade, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	h1, err := d.Submit(ctx, api.Job{Kind: api.JobKindAnswer})
	require.NoError(t, err)
	h2, err := d.Submit(ctx, api.Job{Kind: api.JobKindSnippet})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		res, err := d.Await(h1, 5*time.Second)
		require.NoError(t, err)
		require.Equal(t, api.JobKindAnswer, res.Message)
	}()
	go func() {
		defer wg.Done()
		res, err := d.Await(h2, 5*time.Second)
		require.NoError(t, err)
		require.Equal(t, api.JobKindSnippet, res.Message)
	}()
	wg.Wait()
}

func TestResultCodecRoundTrip(t *testing.T) {
	res := api.Result{
		JobUuid: "abc",
		Verdict: true,
		Message: "Traceback (most recent call last):\n  ...",
		Outcome: api.OutcomeChecked,
	}
	data, err := encodeResult(res)
	require.NoError(t, err)

	got, err := decodeResult(data)
	require.NoError(t, err)
	require.Equal(t, res, got)
}

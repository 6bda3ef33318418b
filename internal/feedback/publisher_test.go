package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/practicepy/grader/api"
)

type fakeRecorder struct {
	corrected     []correction
	executed      []execution
	rank          int64
	rankErr       error
	rankRequested []int64
}

type correction struct {
	id      int64
	valid   bool
	message string
}

type execution struct {
	id     int64
	output string
}

func (f *fakeRecorder) AnswerCorrected(ctx context.Context, id int64, valid bool, message string, at time.Time) error {
	f.corrected = append(f.corrected, correction{id, valid, message})
	return nil
}

func (f *fakeRecorder) SnippetExecuted(ctx context.Context, id int64, output string, at time.Time) error {
	f.executed = append(f.executed, execution{id, output})
	return nil
}

func (f *fakeRecorder) RecomputeRank(ctx context.Context, userID int64) (int64, error) {
	f.rankRequested = append(f.rankRequested, userID)
	return f.rank, f.rankErr
}

type push struct {
	subject string
	data    []byte
}

func capture(pushes *[]push) PushFunc {
	return func(subject string, data []byte) error {
		*pushes = append(*pushes, push{subject, data})
		return nil
	}
}

func TestCompleteValidAnswerAttachesRank(t *testing.T) {
	rec := &fakeRecorder{rank: 7}
	var pushes []push
	p := NewPublisher(rec, capture(&pushes))

	job := api.Job{Kind: api.JobKindAnswer, AnswerID: 11, UserID: 3, ExerciseID: 5}
	p.Complete(context.Background(), job, api.Result{Verdict: true, Message: "Nice! Right answer."})

	require.Len(t, rec.corrected, 1)
	require.Equal(t, correction{11, true, "Nice! Right answer."}, rec.corrected[0])
	require.Equal(t, []int64{3}, rec.rankRequested)

	require.Len(t, pushes, 1)
	require.Equal(t, "answers.3.5", pushes[0].subject)

	var msg api.CorrectionPush
	require.NoError(t, json.Unmarshal(pushes[0].data, &msg))
	require.Equal(t, api.PushTypeCorrection, msg.Type)
	require.True(t, msg.IsCorrected)
	require.True(t, msg.IsValid)
	require.Equal(t, int64(5), msg.Exercise)
	require.Equal(t, int64(11), msg.Answer)
	require.NotNil(t, msg.Rank)
	require.Equal(t, int64(7), *msg.Rank)
}

func TestCompleteInvalidAnswerSkipsRank(t *testing.T) {
	rec := &fakeRecorder{}
	var pushes []push
	p := NewPublisher(rec, capture(&pushes))

	job := api.Job{Kind: api.JobKindAnswer, AnswerID: 12, UserID: 3, ExerciseID: 5}
	p.Complete(context.Background(), job, api.Result{Verdict: false, Message: "AssertionError"})

	require.Empty(t, rec.rankRequested)
	require.Len(t, pushes, 1)

	var msg api.CorrectionPush
	require.NoError(t, json.Unmarshal(pushes[0].data, &msg))
	require.False(t, msg.IsValid)
	require.Nil(t, msg.Rank)
	require.Equal(t, "AssertionError", msg.CorrectionMessage)
}

func TestCompleteRankErrorStillPushes(t *testing.T) {
	rec := &fakeRecorder{rankErr: errors.New("db gone")}
	var pushes []push
	p := NewPublisher(rec, capture(&pushes))

	job := api.Job{Kind: api.JobKindAnswer, AnswerID: 13, UserID: 3, ExerciseID: 5}
	p.Complete(context.Background(), job, api.Result{Verdict: true, Message: "ok"})

	require.Len(t, pushes, 1)
	var msg api.CorrectionPush
	require.NoError(t, json.Unmarshal(pushes[0].data, &msg))
	require.Nil(t, msg.Rank)
}

func TestCompleteSnippet(t *testing.T) {
	rec := &fakeRecorder{}
	var pushes []push
	p := NewPublisher(rec, capture(&pushes))

	job := api.Job{Kind: api.JobKindSnippet, SnippetID: 21, UserID: 9}
	p.Complete(context.Background(), job, api.Result{Verdict: true, Message: "42\n"})

	require.Len(t, rec.executed, 1)
	require.Equal(t, execution{21, "42\n"}, rec.executed[0])
	require.Empty(t, rec.rankRequested)

	require.Len(t, pushes, 1)
	require.Equal(t, "snippets.9", pushes[0].subject)

	var msg api.SnippetPush
	require.NoError(t, json.Unmarshal(pushes[0].data, &msg))
	require.Equal(t, api.PushTypeSnippet, msg.Type)
	require.Equal(t, int64(21), msg.Snippet)
	require.Equal(t, "42\n", msg.Output)
}

func TestCompletePushFailureIsDropped(t *testing.T) {
	rec := &fakeRecorder{}
	p := NewPublisher(rec, func(subject string, data []byte) error {
		return errors.New("no listener")
	})

	job := api.Job{Kind: api.JobKindAnswer, AnswerID: 14, UserID: 3, ExerciseID: 5}
	// Must not panic or error; the database write already happened.
	p.Complete(context.Background(), job, api.Result{Verdict: false, Message: "nope"})
	require.Len(t, rec.corrected, 1)
}

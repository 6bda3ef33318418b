package feedback

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/practicepy/grader/api"
)

// PushFunc publishes one payload to a subject on the notification channel.
// (*nats.Conn).Publish satisfies it.
type PushFunc func(subject string, data []byte) error

// Recorder is the slice of the store the publisher writes through. Split out
// so the publish logic is testable without a database.
type Recorder interface {
	AnswerCorrected(ctx context.Context, id int64, valid bool, message string, at time.Time) error
	SnippetExecuted(ctx context.Context, id int64, output string, at time.Time) error
	RecomputeRank(ctx context.Context, userID int64) (int64, error)
}

// Publisher closes the loop between a grading result and the user: persist
// the verdict, recompute rank on success, push to the sessions listening on
// the user's subject. It is the explicit completion callback of the grading
// pipeline; nothing fires implicitly on row mutation.
type Publisher struct {
	store Recorder
	push  PushFunc
}

func NewPublisher(store Recorder, push PushFunc) *Publisher {
	return &Publisher{store: store, push: push}
}

// Complete handles one finished job. Used as a dispatch.CompletionFunc.
func (p *Publisher) Complete(ctx context.Context, job api.Job, res api.Result) {
	switch job.Kind {
	case api.JobKindSnippet:
		p.snippetExecuted(ctx, job, res)
	default:
		p.answerCorrected(ctx, job, res)
	}
}

func (p *Publisher) answerCorrected(ctx context.Context, job api.Job, res api.Result) {
	// The database write is authoritative; everything after is best effort.
	if err := p.store.AnswerCorrected(ctx, job.AnswerID, res.Verdict, res.Message, time.Now()); err != nil {
		slog.Error("failed to persist correction", "answer", job.AnswerID, "error", err)
		return
	}

	push := api.CorrectionPush{
		Type:              api.PushTypeCorrection,
		Exercise:          job.ExerciseID,
		Answer:            job.AnswerID,
		IsCorrected:       true,
		IsValid:           res.Verdict,
		CorrectionMessage: res.Message,
	}

	if res.Verdict {
		rank, err := p.store.RecomputeRank(ctx, job.UserID)
		if err != nil {
			slog.Error("failed to recompute rank", "user", job.UserID, "error", err)
		} else {
			push.Rank = &rank
		}
	}

	p.send(api.AnswerSubject(job.UserID, job.ExerciseID), push)
}

func (p *Publisher) snippetExecuted(ctx context.Context, job api.Job, res api.Result) {
	if err := p.store.SnippetExecuted(ctx, job.SnippetID, res.Message, time.Now()); err != nil {
		slog.Error("failed to persist snippet output", "snippet", job.SnippetID, "error", err)
		return
	}

	p.send(api.SnippetSubject(job.UserID), api.SnippetPush{
		Type:    api.PushTypeSnippet,
		Snippet: job.SnippetID,
		Output:  res.Message,
	})
}

// send drops publish failures silently apart from a debug line: with no
// active listener the verdict is still observable via page reload.
func (p *Publisher) send(subject string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal push", "subject", subject, "error", err)
		return
	}
	if err := p.push(subject, data); err != nil {
		slog.Debug("push dropped", "subject", subject, "error", err)
	}
}

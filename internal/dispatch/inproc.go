package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/practicepy/grader/api"
)

// GradeFunc grades one job. Both Runner methods satisfy it through a small
// kind switch; tests inject fakes.
type GradeFunc func(ctx context.Context, job api.Job) api.Result

// InprocDispatcher runs jobs on an in-process worker goroutine instead of a
// broker. Same contract as the queue-backed dispatcher, used by the one-shot
// CLI and by tests.
type InprocDispatcher struct {
	jobs     chan inprocJob
	grade    GradeFunc
	complete CompletionFunc
}

type inprocJob struct {
	job   api.Job
	reply chan api.Result
}

type inprocHandle struct {
	jobUuid string
	reply   chan api.Result
}

func (h *inprocHandle) JobUuid() string { return h.jobUuid }

func NewInprocDispatcher(grade GradeFunc, complete CompletionFunc) *InprocDispatcher {
	return &InprocDispatcher{
		jobs:     make(chan inprocJob, 64),
		grade:    grade,
		complete: complete,
	}
}

// Run processes submitted jobs one at a time until ctx is cancelled.
func (d *InprocDispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-d.jobs:
			res := d.grade(ctx, j.job)
			j.reply <- res
			if d.complete != nil {
				d.complete(ctx, j.job, res)
			}
		}
	}
}

func (d *InprocDispatcher) Submit(ctx context.Context, job api.Job) (Handle, error) {
	if job.JobUuid == "" {
		job.JobUuid = uuid.NewString()
	}
	j := inprocJob{job: job, reply: make(chan api.Result, 1)}
	select {
	case d.jobs <- j:
		return &inprocHandle{jobUuid: job.JobUuid, reply: j.reply}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *InprocDispatcher) Await(h Handle, expiry time.Duration) (api.Result, error) {
	ih, ok := h.(*inprocHandle)
	if !ok {
		return api.Result{}, fmt.Errorf("foreign handle type %T", h)
	}

	timer := time.NewTimer(expiry)
	defer timer.Stop()

	select {
	case res := <-ih.reply:
		return res, nil
	case <-timer.C:
		return api.Result{}, ErrJobExpired
	}
}

// Package dispatch decouples the request path from grading work. Jobs go
// onto a durable queue with at-least-once delivery; results come back on a
// per-job reply subject. One dispatcher instance is constructed at process
// start and passed to whatever needs to submit jobs.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/practicepy/grader/api"
)

// ErrJobExpired is returned by Await when no result arrived within the
// expiry. The result is unknown, not rejected: the job may still complete and
// be persisted by a worker.
var ErrJobExpired = errors.New("job expired before a result arrived")

// Handle identifies one submitted job and carries whatever the dispatcher
// needs to await its result.
type Handle interface {
	JobUuid() string
}

type Dispatcher interface {
	// Submit enqueues a job and returns immediately with a handle.
	Submit(ctx context.Context, job api.Job) (Handle, error)
	// Await blocks the calling goroutine until the worker publishes a result
	// or expiry elapses, in which case it fails with ErrJobExpired. Callers
	// in a cooperative context run it on its own goroutine.
	Await(h Handle, expiry time.Duration) (api.Result, error)
}

package grader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/practicepy/grader/api"
	"github.com/practicepy/grader/internal/sandbox"
)

// File names staged into the scratch directory. Fixed so the submission can
// never collide with or shadow the checker.
const (
	checkerFile  = "check.py"
	solutionFile = "solution.py"
	snippetFile  = "snippet.py"
	preCheckFile = "pre_check.py"
)

// Student-facing failure messages. Checker output is forwarded verbatim in
// the checker-failure branch; these cover everything else.
const (
	msgSandboxTimeout = "Checker timed out, look for infinite loops maybe?"
	msgWallTimeout    = "Checker timed out."
	msgNoMemory       = "Not enough memory to run your code."

	// Snippets have no checker, so their timeout messages must not mention
	// one.
	msgSnippetSandboxTimeout = "Timed out, look for infinite loops maybe?"
)

// LaunchFunc executes one entry file inside an isolated scratch directory.
// sandbox.(*Launcher).Run satisfies it; tests inject fakes.
type LaunchFunc func(ctx context.Context, dir, entry string, env []string, wallTimeout time.Duration) (int, []byte, error)

type Config struct {
	// Interpreter runs the unsandboxed pre-check. Defaults to python3.
	Interpreter string
	// WallTimeout is the runner-enforced outer bound on a sandboxed run,
	// deliberately wider than the sandbox's own CPU cap.
	WallTimeout time.Duration
}

// Runner prepares a hermetic scratch environment per job and interprets the
// raw sandbox outcome into an api.Result. It is stateless between jobs; side
// effects stay confined to the scratch directory, destroyed on every path.
type Runner struct {
	launch      LaunchFunc
	interpreter string
	wallTimeout time.Duration
}

func New(launch LaunchFunc, cfg Config) *Runner {
	if cfg.Interpreter == "" {
		cfg.Interpreter = "python3"
	}
	if cfg.WallTimeout <= 0 {
		cfg.WallTimeout = 40 * time.Second
	}
	return &Runner{
		launch:      launch,
		interpreter: cfg.Interpreter,
		wallTimeout: cfg.WallTimeout,
	}
}

// CheckAnswer grades one submission against its checker script and returns
// the verdict. It never returns an error: every failure mode maps to a
// student- or operator-facing result.
func (r *Runner) CheckAnswer(ctx context.Context, job api.Job) api.Result {
	started := time.Now()

	dir, err := os.MkdirTemp("", "grader")
	if err != nil {
		return r.internalError(job, started, fmt.Errorf("failed to create scratch directory: %w", err))
	}
	defer os.RemoveAll(dir)

	files := map[string]string{
		checkerFile:  job.Checker,
		solutionFile: job.SourceCode,
	}
	if err := stageFiles(dir, files); err != nil {
		return r.internalError(job, started, err)
	}

	env := jobEnv(job.Locale)
	if job.PreCheck != "" {
		r.runPreCheck(ctx, dir, job.PreCheck, env)
	}

	exit, out, err := r.launch(ctx, dir, checkerFile, env, r.wallTimeout)
	res := r.classify(job, dir, exit, out, err)
	res.WallMillis = time.Since(started).Milliseconds()
	return res
}

// RunSnippet executes the submitted program directly, no checker involved,
// and returns whatever it printed. Same staging and isolation discipline as
// CheckAnswer.
func (r *Runner) RunSnippet(ctx context.Context, job api.Job) api.Result {
	started := time.Now()

	dir, err := os.MkdirTemp("", "grader")
	if err != nil {
		return r.internalError(job, started, fmt.Errorf("failed to create scratch directory: %w", err))
	}
	defer os.RemoveAll(dir)

	if err := stageFiles(dir, map[string]string{snippetFile: job.SourceCode}); err != nil {
		return r.internalError(job, started, err)
	}

	env := jobEnv(job.Locale)
	if job.PreCheck != "" {
		r.runPreCheck(ctx, dir, job.PreCheck, env)
	}

	exit, out, err := r.launch(ctx, dir, snippetFile, env, r.wallTimeout)
	res := r.classify(job, dir, exit, out, err)
	res.WallMillis = time.Since(started).Milliseconds()
	switch res.Outcome {
	case api.OutcomeChecked:
		// A snippet has no pass/fail contract; its output is the result,
		// empty or not, with no synthesized success message.
		res.Verdict = exit == 0
		res.Message = cleanOutput(out, dir)
	case api.OutcomeWallTimeout:
		res.Message = fmt.Sprintf("Timed out after %d seconds.", int(r.wallTimeout.Seconds()))
	case api.OutcomeSandboxTimeout:
		res.Message = msgSnippetSandboxTimeout
	}
	return res
}

// classify maps a raw sandbox outcome to a result, per the grading contract.
// The reserved kill status is unambiguous and takes precedence over any
// partial output.
func (r *Runner) classify(job api.Job, dir string, exit int, out []byte, err error) api.Result {
	switch {
	case errors.Is(err, sandbox.ErrWallTimeout):
		return result(job, false, msgWallTimeout, api.OutcomeWallTimeout)
	case errors.Is(err, syscall.ENOMEM):
		return result(job, false, msgNoMemory, api.OutcomeNoMemory)
	case err != nil:
		slog.Error("failed to launch sandbox", "job", job.JobUuid, "error", err)
		return result(job, false, err.Error(), api.OutcomeInternalError)
	case exit == sandbox.KilledExitStatus:
		return result(job, false, msgSandboxTimeout, api.OutcomeSandboxTimeout)
	}

	msg := cleanOutput(out, dir)
	if exit == 0 {
		if msg == "" {
			msg = congrats(job.Locale)
		}
		return result(job, true, msg, api.OutcomeChecked)
	}
	return result(job, false, msg, api.OutcomeChecked)
}

// runPreCheck runs the instructor's setup script outside the sandbox, with
// network access, before the sandboxed run. Best effort: failures are logged
// and the job proceeds.
func (r *Runner) runPreCheck(ctx context.Context, dir, script string, env []string) {
	if err := stageFiles(dir, map[string]string{preCheckFile: script}); err != nil {
		slog.Warn("failed to stage pre-check", "error", err)
		return
	}

	slog.Info("running pre-check")
	cmd := exec.CommandContext(ctx, r.interpreter, preCheckFile)
	cmd.Dir = dir
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil || stderr.Len() > 0 {
		slog.Warn("pre-check failed",
			"error", err,
			"stdout", stdout.String(),
			"stderr", stderr.String())
	}
}

func (r *Runner) internalError(job api.Job, started time.Time, err error) api.Result {
	slog.Error("grading infrastructure error", "job", job.JobUuid, "error", err)
	res := result(job, false, err.Error(), api.OutcomeInternalError)
	res.WallMillis = time.Since(started).Milliseconds()
	return res
}

func result(job api.Job, verdict bool, msg string, outcome api.Outcome) api.Result {
	return api.Result{
		JobUuid: job.JobUuid,
		Verdict: verdict,
		Message: msg,
		Outcome: outcome,
	}
}

func stageFiles(dir string, files map[string]string) error {
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

func jobEnv(locale string) []string {
	env := os.Environ()
	if locale != "" {
		env = append(env, "LANGUAGE="+locale)
	}
	return env
}

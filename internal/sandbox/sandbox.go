package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sort"
	"syscall"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// ErrWallTimeout is returned by Run when the process group had to be killed
// because the wall-clock timeout elapsed. Distinct from the sandbox's own
// internal kill, which surfaces as the reserved exit status.
var ErrWallTimeout = errors.New("wall-clock timeout exceeded")

// KilledExitStatus is the reserved exit status the sandbox binary reports
// when it killed the contained process itself (CPU rlimit exhausted, usually
// an infinite loop).
const KilledExitStatus = 255

// DefaultOutputCap bounds how much combined output is kept in memory. Kept a
// little above the 64 KiB the pipeline stores so truncation happens in one
// place, after redaction.
const DefaultOutputCap = 128 * 1024

// Launcher executes untrusted programs under firejail. The isolation policy
// is defense in depth: no network, a private root over the scratch directory,
// a single sanctioned interpreter, all capabilities dropped, seccomp on, and
// hard rlimits. A misconfigured single layer must not be enough to escape.
type Launcher struct {
	Bin         string
	Interpreter string
	Limits      Limits

	// Blacklist holds host directories denied explicitly even though the
	// private root already excludes them.
	Blacklist mapset.Set[string]

	OutputCap int
}

func NewLauncher() *Launcher {
	return &Launcher{
		Bin:         "firejail",
		Interpreter: "python3",
		Limits:      DefaultLimits(),
		Blacklist:   mapset.NewSet("/var", "/sys", "/boot"),
		OutputCap:   DefaultOutputCap,
	}
}

func (l *Launcher) hardeningArgs() []string {
	args := []string{
		"--quiet",
		"--net=none",
		"--shell=none",
		"--x11=none",
		"--protocol=inet",
		"--private-dev",
		"--private-bin=" + l.Interpreter,
		"--private-etc=group,hostname,localtime,nsswitch.conf,passwd,resolv.conf,alternatives,ssl",
		"--private-tmp",
		"--caps.drop=all",
		"--noprofile",
		"--nonewprivs",
		"--nosound",
		"--no3d",
		"--nogroups",
		"--noroot",
		"--seccomp",
	}
	args = append(args, l.Limits.ToArgs()...)

	denied := l.Blacklist.ToSlice()
	sort.Strings(denied)
	for _, dir := range denied {
		args = append(args, "--blacklist="+dir)
	}
	return args
}

// command assembles the firejail invocation for one entry file inside dir.
// The scratch directory becomes the private root and the working directory;
// stdin stays connected to /dev/null.
func (l *Launcher) command(dir, entry string, env []string) *exec.Cmd {
	args := l.hardeningArgs()
	args = append(args, "--private="+dir, l.Interpreter, "-u", "./"+entry)

	cmd := exec.Command(l.Bin, args...)
	cmd.Dir = dir
	cmd.Env = env
	return cmd
}

// Run executes entry inside the sandbox rooted at dir and returns the exit
// status and combined stdout+stderr. On wall-clock timeout the whole process
// group is killed and ErrWallTimeout returned alongside any partial output.
// Errors spawning the sandbox itself (binary missing, OS error) come back
// unclassified for the caller to map.
func (l *Launcher) Run(ctx context.Context, dir, entry string, env []string, wallTimeout time.Duration) (int, []byte, error) {
	outputCap := l.OutputCap
	if outputCap <= 0 {
		outputCap = DefaultOutputCap
	}
	return waitCapped(ctx, l.command(dir, entry, env), wallTimeout, outputCap)
}

// waitCapped starts cmd in its own process group, captures combined output up
// to outputCap bytes, and enforces wallTimeout with a group kill. Split from
// Run so the kill path can be exercised without a sandbox binary present.
func waitCapped(ctx context.Context, cmd *exec.Cmd, wallTimeout time.Duration, outputCap int) (int, []byte, error) {
	out := &cappedBuffer{max: outputCap}
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return 0, nil, err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(wallTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return exitErr.ExitCode(), out.Bytes(), nil
			}
			return 0, out.Bytes(), err
		}
		return 0, out.Bytes(), nil
	case <-timer.C:
		killGroup(cmd)
		<-done
		return 0, out.Bytes(), ErrWallTimeout
	case <-ctx.Done():
		killGroup(cmd)
		<-done
		return 0, out.Bytes(), ctx.Err()
	}
}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// Negative pid targets the whole group; a hostile program may have
	// forked.
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// cappedBuffer keeps the first max bytes written and silently discards the
// rest, so a program printing in a tight loop cannot exhaust worker memory.
type cappedBuffer struct {
	max int
	buf bytes.Buffer
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.buf.Len() < b.max {
		keep := b.max - b.buf.Len()
		if keep > len(p) {
			keep = len(p)
		}
		b.buf.Write(p[:keep])
	}
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}

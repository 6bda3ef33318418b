// Command health verifies a grading host end to end: the firejail binary,
// the python interpreter, and a smoke run of actual student code through the
// full sandbox policy. Run it after provisioning a worker machine.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	pretty_table "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/practicepy/grader/internal/environment"
	"github.com/practicepy/grader/internal/sandbox"
)

type feedbackRow struct {
	unit    string
	health  int // 0 - OK, 1 - Warning, 2 - Error
	message string
}

func main() {
	cfg, err := environment.ReadGraderConfig(os.Getenv("GRADER_CONFIG"))
	if err != nil {
		log.Fatalf("failed to read grader config: %v", err)
	}

	feedback := make([]feedbackRow, 0)

	firejailRow := ensureBinaryOk("Firejail", cfg.FirejailBin, "--version")
	feedback = append(feedback, firejailRow)

	interpRow := ensureBinaryOk("Interpreter", cfg.Interpreter, "--version")
	feedback = append(feedback, interpRow)

	if firejailRow.health != 2 && interpRow.health != 2 {
		feedback = append(feedback, ensureSandboxOk(cfg))
	}

	outputFeedback(feedback)
}

func ensureBinaryOk(unit, bin string, arg string) feedbackRow {
	cmd := exec.Command(bin, arg)
	log.Printf("Running %v...", cmd.Args)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := err.Error()
		if len(out) > 0 {
			msg = msg + ": " + string(out)
		}
		return feedbackRow{unit: unit, health: 2, message: msg}
	}
	return feedbackRow{unit: unit, health: 0, message: firstLine(string(out))}
}

// ensureSandboxOk stages a tiny script and runs it under the exact policy the
// grader applies, so a broken seccomp profile or rlimit shows up here and not
// on a student submission.
func ensureSandboxOk(cfg environment.GraderConfig) feedbackRow {
	launcher := sandbox.NewLauncher()
	launcher.Bin = cfg.FirejailBin
	launcher.Interpreter = cfg.Interpreter
	launcher.Limits = cfg.SandboxLimits()

	dir, err := os.MkdirTemp("", "health")
	if err != nil {
		return feedbackRow{unit: "Sandbox", health: 2, message: err.Error()}
	}
	defer os.RemoveAll(dir)

	script := filepath.Join(dir, "probe.py")
	if err := os.WriteFile(script, []byte("print('sandbox ok')\n"), 0o644); err != nil {
		return feedbackRow{unit: "Sandbox", health: 2, message: err.Error()}
	}

	exit, out, err := launcher.Run(context.Background(), dir, "probe.py", nil, 30*time.Second)
	if err != nil {
		return feedbackRow{unit: "Sandbox", health: 2, message: err.Error()}
	}
	if exit != 0 {
		return feedbackRow{
			unit:    "Sandbox",
			health:  2,
			message: fmt.Sprintf("probe exited with %d: %s", exit, firstLine(string(out))),
		}
	}
	if !strings.Contains(string(out), "sandbox ok") {
		return feedbackRow{
			unit:    "Sandbox",
			health:  1,
			message: "probe ran but output was not captured: " + firstLine(string(out)),
		}
	}
	return feedbackRow{unit: "Sandbox", health: 0, message: "probe ran inside full isolation policy"}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

func outputFeedback(feedback []feedbackRow) {
	t := pretty_table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(pretty_table.Row{"Unit", "Health", "Message"})
	for _, row := range feedback {
		health := text.FgGreen.Sprint("OK")
		switch row.health {
		case 1:
			health = text.FgYellow.Sprint("Warning")
		case 2:
			health = text.FgRed.Sprint("Error")
		}
		t.AppendRow(pretty_table.Row{row.unit, health, row.message})
	}
	t.Render()
}

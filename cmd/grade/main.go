// Command grade runs one submission through the sandbox locally, without any
// queue or database. Handy for authoring checkers and debugging the isolation
// setup.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v3"

	"github.com/practicepy/grader/api"
	"github.com/practicepy/grader/internal/dispatch"
	"github.com/practicepy/grader/internal/environment"
	"github.com/practicepy/grader/internal/grader"
	"github.com/practicepy/grader/internal/sandbox"
)

func main() {
	cmd := &cli.Command{
		Name:      "grade",
		Usage:     "grade a solution file against a checker, locally",
		ArgsUsage: "<solution.py>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "check",
				Aliases: []string{"c"},
				Usage:   "checker script; omit to run the file as a bare snippet",
			},
			&cli.StringFlag{
				Name:  "pre-check",
				Usage: "pre-check script run outside the sandbox",
			},
			&cli.StringFlag{
				Name:    "locale",
				Aliases: []string{"l"},
				Value:   "en",
				Usage:   "locale for success messages",
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to grader.toml",
				Sources: cli.EnvVars("GRADER_CONFIG"),
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("grade failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelWarn,
		TimeFormat: time.Kitchen,
	})))

	if cmd.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one solution file")
	}
	source, err := os.ReadFile(cmd.Args().First())
	if err != nil {
		return fmt.Errorf("failed to read solution: %w", err)
	}

	gcfg, err := environment.ReadGraderConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	launcher := sandbox.NewLauncher()
	launcher.Bin = gcfg.FirejailBin
	launcher.Interpreter = gcfg.Interpreter
	launcher.Limits = gcfg.SandboxLimits()
	runner := grader.New(launcher.Run, grader.Config{
		Interpreter: gcfg.Interpreter,
		WallTimeout: gcfg.WallTimeout(),
	})

	job := api.Job{
		Kind:       api.JobKindSnippet,
		SourceCode: string(source),
		Locale:     cmd.String("locale"),
	}
	if checkPath := cmd.String("check"); checkPath != "" {
		check, err := os.ReadFile(checkPath)
		if err != nil {
			return fmt.Errorf("failed to read checker: %w", err)
		}
		job.Kind = api.JobKindAnswer
		job.Checker = string(check)

		if prePath := cmd.String("pre-check"); prePath != "" {
			pre, err := os.ReadFile(prePath)
			if err != nil {
				return fmt.Errorf("failed to read pre-check: %w", err)
			}
			job.PreCheck = string(pre)
		}
	}

	grade := func(ctx context.Context, job api.Job) api.Result {
		if job.Kind == api.JobKindSnippet {
			return runner.RunSnippet(ctx, job)
		}
		return runner.CheckAnswer(ctx, job)
	}

	disp := dispatch.NewInprocDispatcher(grade, nil)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go disp.Run(ctx)

	h, err := disp.Submit(ctx, job)
	if err != nil {
		return err
	}
	res, err := disp.Await(h, gcfg.WallTimeout()+10*time.Second)
	if err != nil {
		return err
	}

	report(res)
	if !res.Verdict {
		os.Exit(1)
	}
	return nil
}

func report(res api.Result) {
	verdict := color.New(color.FgRed, color.Bold).Sprint("FAILED")
	if res.Verdict {
		verdict = color.New(color.FgGreen, color.Bold).Sprint("PASSED")
	}
	fmt.Printf("%s  (%s, %d ms)\n", verdict, res.Outcome, res.WallMillis)
	if res.Message != "" {
		fmt.Println()
		fmt.Println(res.Message)
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/lmittmann/tint"
	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/practicepy/grader/internal/dispatch"
	"github.com/practicepy/grader/internal/environment"
	"github.com/practicepy/grader/internal/feedback"
	"github.com/practicepy/grader/internal/grader"
	"github.com/practicepy/grader/internal/sandbox"
)

func main() {
	cmd := &cli.Command{
		Name:  "grader",
		Usage: "grade queued submissions inside a firejail sandbox and publish verdicts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to grader.toml",
				Sources: cli.EnvVars("GRADER_CONFIG"),
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "concurrent grading loops; keep at 1 unless the host has capacity for parallel sandboxes",
				Value: 1,
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "verbose logging",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("grader exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	level := slog.LevelInfo
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})))

	env, err := environment.ReadEnvConfig()
	if err != nil {
		return err
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

	db, err := sqlx.Connect("postgres", env.SqlxConnString)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()
	slog.Info("connected to postgres")

	nc, err := nats.Connect(env.NatsURL, nats.Name("grader"))
	if err != nil {
		return fmt.Errorf("failed to connect to nats: %w", err)
	}
	defer nc.Close()
	slog.Info("connected to nats", "url", env.NatsURL)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load aws config: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg)

	store := feedback.NewStore(db)
	publisher := feedback.NewPublisher(store, nc.Publish)
	consumer := dispatch.NewConsumer(sqsClient, env.SqsQueueUrl, nc.Publish, runner, publisher.Complete)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	workers := int(cmd.Int("workers"))
	if workers < 1 {
		workers = 1
	}
	slog.Info("grader starting", "queue", env.SqsQueueUrl, "workers", workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return consumer.Run(ctx)
		})
	}
	return g.Wait()
}

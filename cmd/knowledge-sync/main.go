package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/urfave/cli/v3"

	"github.com/chongs12/asset-knowledge-base/internal/bootstrap"
	"github.com/chongs12/asset-knowledge-base/internal/scheduler"
	"github.com/chongs12/asset-knowledge-base/pkg/config"
	"github.com/chongs12/asset-knowledge-base/pkg/database"
	"github.com/chongs12/asset-knowledge-base/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "knowledge-sync",
		Usage: "project all assets and re-index them into the vector store once",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Value: time.Hour,
				Usage: "upper bound for the whole run",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "project assets and print the document count without embedding or writing",
			},
		},
		Action: run,
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "knowledge-sync: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger.Init()
	logger.SetLevel(cfg.Log.Level)

	db, err := database.Init(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	proj := bootstrap.NewProjector(db)

	if cmd.Bool("dry-run") {
		docs, err := proj.Project(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d asset documents projected\n", len(docs))
		if len(docs) > 0 {
			fmt.Printf("first: %s\n", docs[0].Text)
		}
		return nil
	}

	store, closeStore, err := bootstrap.NewStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	rdb, err := bootstrap.NewRedis(ctx, &cfg.Redis)
	if err != nil {
		logger.Warn(ctx, "Redis unavailable, embedding cache disabled", "error", err.Error())
	}
	if rdb != nil {
		defer rdb.Close()
	}
	embedder, err := bootstrap.NewEmbedder(ctx, cfg, rdb)
	if err != nil {
		return err
	}

	var publisher scheduler.EventPublisher
	pub, err := bootstrap.NewPublisher(ctx, &cfg.RabbitMQ)
	if err != nil {
		logger.Warn(ctx, "RabbitMQ unavailable, sync events disabled", "error", err.Error())
	} else if pub != nil {
		defer pub.Close()
		publisher = pub
	}

	cfg.KnowledgeSync.RunTimeout = cmd.Duration("timeout")
	sched := bootstrap.NewScheduler(cfg, proj, bootstrap.NewPipeline(cfg, embedder, store), publisher)
	rep, runErr := sched.RunOnce(ctx)
	if rep != nil {
		out, err := sonic.ConfigStd.MarshalIndent(rep, "", "  ")
		if err == nil {
			fmt.Println(string(out))
		}
	}
	return runErr
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"

	"thebrain/backend/internal/app"
	"thebrain/backend/internal/config"
	"thebrain/backend/internal/logger"
)

func main() {
	log := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer deps.DB.Close()

	application, err := app.New(cfg, deps.DB, deps.Embedder, deps.VectorStore, deps.Generator, deps.Files, deps.NSQProducer, log)
	if err != nil {
		slog.Error("failed to build application", "error", err)
		os.Exit(1)
	}

	// Fallback driver for queued work. The NSQ trigger path below is the fast
	// path; the scheduler guarantees progress without it.
	go application.Scheduler.Run(ctx)

	nsqCfg := nsq.NewConfig()
	consumer, err := nsq.NewConsumer(config.TopicIngestTrigger, "worker", nsqCfg)
	if err != nil {
		slog.Error("failed to create NSQ trigger consumer", "error", err)
	} else {
		consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
			return application.TriggerConsumer.HandleMessage(m)
		}))
		if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
			slog.Error("failed to connect to NSQLookupd, relying on scheduler only", "error", err)
		} else {
			slog.Info("NSQ trigger consumer connected", "topic", config.TopicIngestTrigger)
		}
	}

	if err := application.Run(ctx); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

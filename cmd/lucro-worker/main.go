package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"lucro/internal/amqp"
	"lucro/internal/categorize"
	"lucro/internal/cli"
	"lucro/internal/config"
	"lucro/internal/log"
	"lucro/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	logger.Info("Starting lucro-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.QueueBackend != config.QueueBackendAMQP {
		logger.Error("lucro-worker consumes from RabbitMQ; set QUEUE_BACKEND=amqp",
			"queue_backend", cfg.QueueBackend)
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	client, err := amqp.NewClient(cli.AMQPConfig(cfg))
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer client.Close()

	w := worker.NewCategorizeWorker(repo, categorize.NewDefaultClassifier(cfg.ClassifierStrict), cli.WorkerConfig(cfg), logger)

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(context.Context) {
		logger.Info("Shutting down worker...")
	})

	// Stale recovery and the pending sweep run beside the consumer so
	// batches whose message was lost still get categorized
	if err := w.Start(ctx); err != nil {
		logger.Error("Failed to start categorize worker", log.FieldError, err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.Consume(gctx, func(ctx context.Context, msg *amqp.CategorizeBatchMessage) error {
			_, err := w.HandleBatch(ctx, msg.BatchID)
			return err
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := w.Stop(stopCtx); err != nil {
			logger.Warn("Sweep loop did not stop in time", log.FieldError, err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", log.FieldError, err)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}

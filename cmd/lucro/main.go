package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"lucro/internal/amqp"
	"lucro/internal/cache"
	"lucro/internal/categorize"
	"lucro/internal/cli"
	"lucro/internal/config"
	"lucro/internal/core"
	apphttp "lucro/internal/http"
	"lucro/internal/log"
	"lucro/internal/queue/memory"
	"lucro/internal/services"
	"lucro/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	// Background work outlives individual requests but not the process
	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	checks := map[string]apphttp.ReadinessCheck{"database": repo.Ping}
	var (
		submitter services.JobSubmitter
		stoppers  []func(context.Context)
	)

	switch cfg.QueueBackend {
	case config.QueueBackendAMQP:
		client, err := amqp.NewClient(cli.AMQPConfig(cfg))
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		submitter = client
		checks["broker"] = func(context.Context) error { return client.Ping() }
		stoppers = append(stoppers, func(context.Context) { _ = client.Close() })
		logger.Info("Publishing categorization jobs to RabbitMQ",
			"exchange", cfg.AMQPExchange,
			"queue", cfg.AMQPQueue)

	default:
		w := worker.NewCategorizeWorker(repo, categorize.NewDefaultClassifier(cfg.ClassifierStrict), cli.WorkerConfig(cfg), logger)
		queue := memory.NewQueue(cli.MemoryQueueConfig(cfg))
		err := queue.Start(runCtx, func(ctx context.Context, batchID string) error {
			_, err := w.HandleBatch(ctx, batchID)
			return err
		})
		if err != nil {
			logger.Error("Failed to start in-memory queue", log.FieldError, err)
			os.Exit(1)
		}
		if err := w.Start(runCtx); err != nil {
			logger.Error("Failed to start categorize worker", log.FieldError, err)
			os.Exit(1)
		}
		submitter = queue
		stoppers = append(stoppers,
			func(ctx context.Context) {
				if err := queue.Stop(ctx); err != nil {
					logger.Warn("In-memory queue did not drain", log.FieldError, err)
				}
			},
			func(ctx context.Context) { _ = w.Stop(ctx) },
		)
		logger.Info("Categorizing in-process",
			"workers", cfg.MemoryQueueWorkers,
			"strict_classifier", cfg.ClassifierStrict)
	}

	summaries := services.NewSummaryService(repo)
	if cfg.SummaryCacheTTL > 0 {
		summaryCache := cache.NewLRUCache[core.AccountSummary](cfg.SummaryCacheSize, cfg.SummaryCacheTTL)
		summaries.WithCache(summaryCache)

		cacheManager := cache.NewManager(logger)
		cacheManager.Register(summaryCache)
		cacheManager.StartCleanup(cfg.SummaryCacheTTL)
		stoppers = append(stoppers, func(context.Context) { cacheManager.Stop() })
	}
	ingestion := services.NewIngestionService(repo, submitter).WithInvalidator(summaries)

	srv := apphttp.NewServer(apphttp.ServerConfig{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		ReadinessChecks:    checks,
		Logger:             logger,
	}, ingestion, summaries)

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		// Drain in-flight jobs before cancelling them
		for _, stop := range stoppers {
			stop(ctx)
		}
		stopRun()
	})

	logger.Info("Starting lucro server", "port", cfg.Port, "queue_backend", cfg.QueueBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

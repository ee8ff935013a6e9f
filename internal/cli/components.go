package cli

import (
	"lucro/internal/amqp"
	"lucro/internal/config"
	"lucro/internal/queue/memory"
	"lucro/internal/worker"
)

// WorkerConfig maps process configuration onto the categorize worker.
func WorkerConfig(cfg *config.Config) worker.Config {
	return worker.Config{
		ClassifyTimeout: cfg.ClassifyTimeout,
		SweepInterval:   cfg.SweepInterval,
		SweepBatchLimit: cfg.SweepBatchLimit,
		StaleAfter:      cfg.StaleProcessingAfter,
	}
}

// AMQPConfig maps process configuration onto the broker topology.
func AMQPConfig(cfg *config.Config) amqp.Config {
	return amqp.Config{
		URL:      cfg.AMQPURL,
		Exchange: cfg.AMQPExchange,
		Queue:    cfg.AMQPQueue,
		Prefetch: cfg.AMQPPrefetch,
	}
}

// MemoryQueueConfig maps process configuration onto the in-process queue.
func MemoryQueueConfig(cfg *config.Config) memory.Config {
	qc := memory.DefaultConfig()
	qc.BufferSize = cfg.MemoryQueueSize
	qc.Workers = cfg.MemoryQueueWorkers
	return qc
}

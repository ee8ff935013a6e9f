// Package memory provides an in-process categorization job queue.
//
// It gives the API process a worker without a broker. Jobs live only in
// memory; a restart loses queued jobs, which the worker's pending sweep
// recovers from the database.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned when submitting to a stopped queue.
var ErrClosed = errors.New("queue is closed")

// Handler processes one batch. Returning an error schedules a retry.
type Handler func(ctx context.Context, batchID string) error

// Job is one queued categorization request.
type Job struct {
	ID         string
	BatchID    string
	Attempts   int
	MaxRetries int
	CreatedAt  time.Time
}

// Config tunes the queue.
type Config struct {
	// BufferSize is how many jobs can wait before SubmitBatch blocks (default: 100)
	BufferSize int
	// Workers is the number of concurrent handlers (default: 2)
	Workers int
	// MaxRetries is how often a failing job is re-run (default: 3)
	MaxRetries int
	// RetryDelay is multiplied by the attempt number before a retry (default: 1s)
	RetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		BufferSize: 100,
		Workers:    2,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// Queue is a channel-backed job queue, safe for concurrent use.
type Queue struct {
	config    Config
	jobChan   chan *Job
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	started   bool
}

func NewQueue(config Config) *Queue {
	defaults := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}
	return &Queue{
		config:    config,
		jobChan:   make(chan *Job, config.BufferSize),
		closeChan: make(chan struct{}),
	}
}

// SubmitBatch enqueues a categorization job for batchID.
func (q *Queue) SubmitBatch(ctx context.Context, batchID string) error {
	return q.enqueue(ctx, &Job{
		ID:         uuid.NewString(),
		BatchID:    batchID,
		MaxRetries: q.config.MaxRetries,
		CreatedAt:  time.Now(),
	})
}

func (q *Queue) enqueue(ctx context.Context, job *Job) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return ErrClosed
	}
}

// Start launches the worker goroutines. They stop when ctx ends or Stop is called.
func (q *Queue) Start(ctx context.Context, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.started {
		return fmt.Errorf("queue already started")
	}
	q.started = true

	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	slog.InfoContext(ctx, "In-memory job queue started",
		"workers", q.config.Workers,
		"buffer_size", q.config.BufferSize)
	return nil
}

func (q *Queue) worker(ctx context.Context, handler Handler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			q.process(ctx, job, handler)
		}
	}
}

func (q *Queue) process(ctx context.Context, job *Job, handler Handler) {
	job.Attempts++
	err := handler(ctx, job.BatchID)
	if err == nil {
		return
	}

	if job.Attempts > job.MaxRetries || ctx.Err() != nil {
		slog.ErrorContext(ctx, "Categorization job gave up",
			"job_id", job.ID,
			"batch_id", job.BatchID,
			"attempts", job.Attempts,
			"error", err)
		return
	}

	backoff := time.Duration(job.Attempts) * q.config.RetryDelay
	slog.WarnContext(ctx, "Categorization job failed, retrying",
		"job_id", job.ID,
		"batch_id", job.BatchID,
		"attempt", job.Attempts,
		"retry_in", backoff,
		"error", err)

	time.AfterFunc(backoff, func() {
		if err := q.enqueue(ctx, job); err != nil {
			slog.WarnContext(ctx, "Dropped categorization retry",
				"job_id", job.ID,
				"batch_id", job.BatchID,
				"error", err)
		}
	})
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the queue without a deadline.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

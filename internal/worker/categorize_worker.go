package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lucro/internal/categorize"
	"lucro/internal/core"
	"lucro/internal/log"
)

// Store is the subset of the repository the worker mutates.
type Store interface {
	ListBatchTransactions(ctx context.Context, batchID string) ([]core.Transaction, error)
	ClaimTransaction(ctx context.Context, id string) (bool, error)
	CompleteTransaction(ctx context.Context, id string, category core.Category) error
	FailTransaction(ctx context.Context, id string) error
	ListPendingBatches(ctx context.Context, limit int) ([]string, error)
	ResetStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Config holds configuration for the categorize worker
type Config struct {
	// ClassifyTimeout bounds a single classification call (default: 5s)
	ClassifyTimeout time.Duration

	// SweepInterval is how often to look for batches with pending rows (default: 1m)
	SweepInterval time.Duration

	// SweepBatchLimit is the max number of batches handled per sweep (default: 20)
	SweepBatchLimit int

	// StaleAfter is how long a row may stay processing before it is reset (default: 10m)
	StaleAfter time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		ClassifyTimeout: 5 * time.Second,
		SweepInterval:   time.Minute,
		SweepBatchLimit: 20,
		StaleAfter:      10 * time.Minute,
	}
}

// BatchOutcome counts what one run over a batch did.
type BatchOutcome struct {
	Completed int
	Failed    int
	Skipped   int
}

// CategorizeWorker moves the transactions of a batch through
// pending -> processing -> completed|failed.
type CategorizeWorker struct {
	store      Store
	classifier categorize.Classifier
	config     Config
	logger     *log.Logger

	// Lifecycle management of the sweep loop
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewCategorizeWorker(store Store, classifier categorize.Classifier, config Config, logger *log.Logger) *CategorizeWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &CategorizeWorker{
		store:      store,
		classifier: classifier,
		config:     config,
		logger:     logger.WithComponent(log.ComponentWorker),
	}
}

// HandleBatch runs the state machine over every row of batchID. Rows that
// are not pending are left untouched, so running it twice on the same batch
// is harmless. A classification error fails only its row; a store error
// aborts the run and is returned so the queue can redeliver the job.
func (w *CategorizeWorker) HandleBatch(ctx context.Context, batchID string) (BatchOutcome, error) {
	var out BatchOutcome

	txns, err := w.store.ListBatchTransactions(ctx, batchID)
	if err != nil {
		return out, fmt.Errorf("list batch %s: %w", batchID, err)
	}
	if len(txns) == 0 {
		w.logger.WarnContext(ctx, "Batch has no transactions", log.FieldBatchID, batchID)
		return out, nil
	}

	for _, t := range txns {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		status, err := w.processTransaction(ctx, t)
		if err != nil {
			return out, err
		}
		switch status {
		case core.StatusCompleted:
			out.Completed++
		case core.StatusFailed:
			out.Failed++
		default:
			out.Skipped++
		}
	}

	w.logger.InfoContext(ctx, "Batch categorized",
		log.FieldBatchID, batchID,
		"completed", out.Completed,
		"failed", out.Failed,
		"skipped", out.Skipped)

	return out, nil
}

// processTransaction returns the final status of t, or its current status
// when the row was skipped.
func (w *CategorizeWorker) processTransaction(ctx context.Context, t core.Transaction) (core.IngestionStatus, error) {
	if t.Status != core.StatusPending {
		return t.Status, nil
	}

	claimed, err := w.store.ClaimTransaction(ctx, t.ID)
	if err != nil {
		return "", fmt.Errorf("claim %s: %w", t.ID, err)
	}
	if !claimed {
		// Another worker got there first
		return core.StatusProcessing, nil
	}

	category, classifyErr := w.classify(ctx, t.Description)
	if classifyErr != nil && ctx.Err() != nil {
		// Shutting down; the row stays processing until the stale reset
		return "", ctx.Err()
	}

	if classifyErr != nil {
		if err := w.store.FailTransaction(ctx, t.ID); err != nil {
			return "", fmt.Errorf("fail %s: %w", t.ID, err)
		}
		w.logger.WarnContext(ctx, "Transaction classification failed",
			log.FieldTransactionID, t.ID,
			log.FieldBatchID, t.BatchID,
			log.FieldError, classifyErr)
		return core.StatusFailed, nil
	}

	if err := w.store.CompleteTransaction(ctx, t.ID, category); err != nil {
		return "", fmt.Errorf("complete %s: %w", t.ID, err)
	}
	w.logger.DebugContext(ctx, "Transaction categorized",
		log.FieldTransactionID, t.ID,
		log.FieldCategory, category)
	return core.StatusCompleted, nil
}

func (w *CategorizeWorker) classify(ctx context.Context, description string) (core.Category, error) {
	if w.config.ClassifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.ClassifyTimeout)
		defer cancel()
	}

	category, err := w.classifier.Classify(ctx, description)
	if err != nil {
		return "", err
	}
	if !category.Valid() {
		return "", fmt.Errorf("%w: classifier returned %q", core.ErrNoCategory, category)
	}
	return category, nil
}

// RecoverStale returns rows left processing by a crashed run to pending.
func (w *CategorizeWorker) RecoverStale(ctx context.Context) error {
	n, err := w.store.ResetStaleProcessing(ctx, w.config.StaleAfter)
	if err != nil {
		return fmt.Errorf("reset stale processing: %w", err)
	}
	if n > 0 {
		w.logger.InfoContext(ctx, "Recovered stale transactions", "count", n)
	}
	return nil
}

// SweepPending runs HandleBatch on batches that still own pending rows.
// It is the backup path for lost or never published jobs.
func (w *CategorizeWorker) SweepPending(ctx context.Context) error {
	batches, err := w.store.ListPendingBatches(ctx, w.config.SweepBatchLimit)
	if err != nil {
		return fmt.Errorf("list pending batches: %w", err)
	}
	if len(batches) == 0 {
		return nil
	}

	w.logger.InfoContext(ctx, "Sweeping pending batches", "count", len(batches))

	var errs []error
	for _, id := range batches {
		if _, err := w.HandleBatch(ctx, id); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, fmt.Errorf("batch %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Start sweeps once and keeps sweeping every SweepInterval until Stop is
// called or ctx ends.
func (w *CategorizeWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("categorize worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.runLoop(ctx)

	w.logger.InfoContext(ctx, "Categorize worker sweep started",
		"sweep_interval", w.config.SweepInterval,
		"sweep_batch_limit", w.config.SweepBatchLimit)

	return nil
}

// Stop gracefully stops the sweep loop and waits for it to finish.
func (w *CategorizeWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	doneCh := w.doneCh
	w.mu.Unlock()

	select {
	case <-doneCh:
		w.logger.InfoContext(ctx, "Categorize worker stopped gracefully")
		return nil
	case <-ctx.Done():
		w.logger.WarnContext(ctx, "Categorize worker stop timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the sweep loop is running
func (w *CategorizeWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *CategorizeWorker) runLoop(ctx context.Context) {
	defer close(w.doneCh)

	interval := w.config.SweepInterval
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Sweep immediately on startup
	w.sweep(ctx)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep first returns stale processing rows to pending so a row whose
// outcome write failed is retried without a restart.
func (w *CategorizeWorker) sweep(ctx context.Context) {
	if err := w.RecoverStale(ctx); err != nil && ctx.Err() == nil {
		w.logger.WarnContext(ctx, "Failed to reset stale processing rows", log.FieldError, err)
	}
	if err := w.SweepPending(ctx); err != nil && ctx.Err() == nil {
		w.logger.ErrorContext(ctx, "Pending sweep failed", log.FieldError, err)
	}
}

package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lucro/internal/core"
	"lucro/internal/storage"

	"github.com/google/uuid"
)

// dispatchTimeout bounds how long a request waits for a full queue.
const dispatchTimeout = 5 * time.Second

// BatchStore persists one ingestion batch atomically.
type BatchStore interface {
	InsertBatch(ctx context.Context, batchID string, accounts []core.Account, txns []core.Transaction) (storage.InsertBatchResult, error)
}

// JobSubmitter hands a committed batch to the categorization worker.
// Delivery is at-least-once; the worker tolerates repeats.
type JobSubmitter interface {
	SubmitBatch(ctx context.Context, batchID string) error
}

// AccountInvalidator forgets derived data of accounts whose rows changed.
type AccountInvalidator interface {
	InvalidateAccounts(accountIDs ...string)
}

// IngestionService writes integration batches and dispatches their
// categorization job once the write committed.
type IngestionService struct {
	store       BatchStore
	submitter   JobSubmitter
	invalidator AccountInvalidator
	newID       func() string
}

func NewIngestionService(store BatchStore, submitter JobSubmitter) *IngestionService {
	return &IngestionService{
		store:     store,
		submitter: submitter,
		newID:     uuid.NewString,
	}
}

// WithInvalidator registers inv to hear about every committed batch.
func (s *IngestionService) WithInvalidator(inv AccountInvalidator) *IngestionService {
	s.invalidator = inv
	return s
}

// Ingest validates and stores accounts and transactions under a fresh batch
// id. The batch is all-or-nothing. A failed job submission does not undo
// the write; the worker's pending sweep picks such batches up later.
func (s *IngestionService) Ingest(ctx context.Context, accounts []core.Account, txns []core.Transaction) (core.BatchResult, error) {
	if err := core.ValidateBatch(accounts, txns); err != nil {
		return core.BatchResult{}, err
	}

	batchID := s.newID()
	if _, err := s.store.InsertBatch(ctx, batchID, accounts, txns); err != nil {
		return core.BatchResult{}, fmt.Errorf("insert batch: %w", err)
	}

	if s.invalidator != nil {
		s.invalidator.InvalidateAccounts(touchedAccounts(accounts, txns)...)
	}

	if len(txns) > 0 {
		// The write committed, so a client disconnect must not drop the job
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
		s.dispatch(dctx, batchID)
		cancel()
	}

	return core.BatchResult{
		BatchID:           batchID,
		TotalTransactions: len(accounts) + len(txns),
	}, nil
}

func (s *IngestionService) dispatch(ctx context.Context, batchID string) {
	if s.submitter == nil {
		slog.WarnContext(ctx, "No job submitter configured, batch left for the pending sweep",
			"batch_id", batchID)
		return
	}

	if err := s.submitter.SubmitBatch(ctx, batchID); err != nil {
		slog.ErrorContext(ctx, "Failed to submit categorization job",
			"batch_id", batchID, "error", err)
		// Don't fail the request - the batch is committed
		return
	}

	slog.InfoContext(ctx, "Categorization job submitted", "batch_id", batchID)
}

// touchedAccounts lists each account id named by accounts or txns once.
func touchedAccounts(accounts []core.Account, txns []core.Transaction) []string {
	seen := make(map[string]bool, len(accounts))
	ids := make([]string, 0, len(accounts))
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, a := range accounts {
		add(a.ID)
	}
	for _, t := range txns {
		add(t.AccountID)
	}
	return ids
}

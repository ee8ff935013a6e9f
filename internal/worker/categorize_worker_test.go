package worker

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"lucro/internal/categorize"
	"lucro/internal/core"
	"lucro/internal/log"
	"lucro/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "worker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func quietLogger() *log.Logger {
	return log.New(log.Config{Output: &bytes.Buffer{}})
}

func seed(t *testing.T, repo *storage.SQLiteRepository, batchID string, descs map[string]string) {
	t.Helper()
	txns := make([]core.Transaction, 0, len(descs))
	for id, desc := range descs {
		txns = append(txns, core.Transaction{
			ID:          id,
			AccountID:   "acc_1",
			Amount:      core.Money{Cents: -1000},
			Currency:    "USD",
			Date:        time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC),
			Description: desc,
		})
	}
	_, err := repo.InsertBatch(context.Background(), batchID,
		[]core.Account{{ID: "acc_1", Name: "Checking", Type: "depository"}}, txns)
	require.NoError(t, err)
}

func status(t *testing.T, repo *storage.SQLiteRepository, id string) (core.IngestionStatus, *core.Category) {
	t.Helper()
	tx, err := repo.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return tx.Status, tx.Category
}

func TestHandleBatch_MixedOutcomes(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo, "b1", map[string]string{
		"t1": "AMAZON.COM order",
		"t2": "Uber trip",
		"t3": "Corner coffee",
	})

	w := NewCategorizeWorker(repo, categorize.NewDefaultClassifier(true), DefaultConfig(), quietLogger())
	out, err := w.HandleBatch(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, BatchOutcome{Completed: 2, Failed: 1}, out)

	st, cat := status(t, repo, "t1")
	assert.Equal(t, core.StatusCompleted, st)
	require.NotNil(t, cat)
	assert.Equal(t, core.CategoryShopping, *cat)

	st, cat = status(t, repo, "t2")
	assert.Equal(t, core.StatusCompleted, st)
	require.NotNil(t, cat)
	assert.Equal(t, core.CategoryTransport, *cat)

	st, cat = status(t, repo, "t3")
	assert.Equal(t, core.StatusFailed, st)
	assert.Nil(t, cat, "failed rows stay uncategorized")
}

func TestHandleBatch_LenientClassifierUsesOther(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo, "b1", map[string]string{"t1": "Corner coffee"})

	w := NewCategorizeWorker(repo, categorize.NewDefaultClassifier(false), DefaultConfig(), quietLogger())
	out, err := w.HandleBatch(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, out.Completed)

	_, cat := status(t, repo, "t1")
	require.NotNil(t, cat)
	assert.Equal(t, core.CategoryOther, *cat)
}

func TestHandleBatch_RedeliveryIsHarmless(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo, "b1", map[string]string{"t1": "Amazon", "t2": "nothing"})

	w := NewCategorizeWorker(repo, categorize.NewDefaultClassifier(true), DefaultConfig(), quietLogger())
	_, err := w.HandleBatch(context.Background(), "b1")
	require.NoError(t, err)

	// A different classifier on the second run proves nothing is re-classified
	w2 := NewCategorizeWorker(repo, categorize.NewDefaultClassifier(false), DefaultConfig(), quietLogger())
	out, err := w2.HandleBatch(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, BatchOutcome{Skipped: 2}, out)

	st, cat := status(t, repo, "t2")
	assert.Equal(t, core.StatusFailed, st)
	assert.Nil(t, cat)
}

func TestHandleBatch_ScopedToBatch(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo, "b1", map[string]string{"t1": "Amazon"})
	seed(t, repo, "b2", map[string]string{"t2": "Amazon"})

	w := NewCategorizeWorker(repo, categorize.NewDefaultClassifier(true), DefaultConfig(), quietLogger())
	_, err := w.HandleBatch(context.Background(), "b1")
	require.NoError(t, err)

	st, cat := status(t, repo, "t2")
	assert.Equal(t, core.StatusPending, st)
	assert.Nil(t, cat)
}

func TestHandleBatch_SkipsRowsClaimedElsewhere(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo, "b1", map[string]string{"t1": "Amazon", "t2": "Lyft"})

	ok, err := repo.ClaimTransaction(context.Background(), "t1")
	require.NoError(t, err)
	require.True(t, ok)

	w := NewCategorizeWorker(repo, categorize.NewDefaultClassifier(true), DefaultConfig(), quietLogger())
	out, err := w.HandleBatch(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, BatchOutcome{Completed: 1, Skipped: 1}, out)

	st, _ := status(t, repo, "t1")
	assert.Equal(t, core.StatusProcessing, st)
}

func TestHandleBatch_UnknownBatch(t *testing.T) {
	w := NewCategorizeWorker(newRepo(t), categorize.NewDefaultClassifier(true), DefaultConfig(), quietLogger())
	out, err := w.HandleBatch(context.Background(), "nope")
	require.NoError(t, err)
	assert.Zero(t, out)
}

// failingStore wraps a real repository and fails selected operations.
type failingStore struct {
	*storage.SQLiteRepository
	failClaim    bool
	failComplete bool
}

func (f *failingStore) ClaimTransaction(ctx context.Context, id string) (bool, error) {
	if f.failClaim {
		return false, errors.New("database is locked")
	}
	return f.SQLiteRepository.ClaimTransaction(ctx, id)
}

func (f *failingStore) CompleteTransaction(ctx context.Context, id string, c core.Category) error {
	if f.failComplete {
		return errors.New("disk I/O error")
	}
	return f.SQLiteRepository.CompleteTransaction(ctx, id, c)
}

func TestHandleBatch_StoreErrorAbortsForRedelivery(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo, "b1", map[string]string{"t1": "Amazon", "t2": "Uber"})

	w := NewCategorizeWorker(&failingStore{SQLiteRepository: repo, failClaim: true},
		categorize.NewDefaultClassifier(true), DefaultConfig(), quietLogger())
	_, err := w.HandleBatch(context.Background(), "b1")
	require.Error(t, err)

	st, _ := status(t, repo, "t1")
	assert.Equal(t, core.StatusPending, st, "nothing changes when the claim fails")

	w = NewCategorizeWorker(&failingStore{SQLiteRepository: repo, failComplete: true},
		categorize.NewDefaultClassifier(true), DefaultConfig(), quietLogger())
	_, err = w.HandleBatch(context.Background(), "b1")
	require.Error(t, err)

	st, _ = status(t, repo, "t1")
	assert.Equal(t, core.StatusProcessing, st, "row waits for the stale reset")
	st, _ = status(t, repo, "t2")
	assert.Equal(t, core.StatusPending, st, "run stops at the first store error")
}

type blockingClassifier struct{}

func (blockingClassifier) Classify(ctx context.Context, _ string) (core.Category, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type bogusClassifier struct{}

func (bogusClassifier) Classify(context.Context, string) (core.Category, error) {
	return core.Category("Groceries"), nil
}

func TestHandleBatch_ClassifyTimeoutFailsRow(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo, "b1", map[string]string{"t1": "Amazon"})

	cfg := DefaultConfig()
	cfg.ClassifyTimeout = 20 * time.Millisecond
	w := NewCategorizeWorker(repo, blockingClassifier{}, cfg, quietLogger())

	out, err := w.HandleBatch(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, out.Failed)
}

func TestHandleBatch_RejectsCategoryOutsideTaxonomy(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo, "b1", map[string]string{"t1": "Amazon"})

	w := NewCategorizeWorker(repo, bogusClassifier{}, DefaultConfig(), quietLogger())
	out, err := w.HandleBatch(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, out.Failed)
}

func TestHandleBatch_CancelledContext(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo, "b1", map[string]string{"t1": "Amazon"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewCategorizeWorker(repo, categorize.NewDefaultClassifier(true), DefaultConfig(), quietLogger())
	_, err := w.HandleBatch(ctx, "b1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSweepPending(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo, "b1", map[string]string{"t1": "Amazon"})
	seed(t, repo, "b2", map[string]string{"t2": "PayPal"})

	w := NewCategorizeWorker(repo, categorize.NewDefaultClassifier(true), DefaultConfig(), quietLogger())
	require.NoError(t, w.SweepPending(context.Background()))

	for _, id := range []string{"t1", "t2"} {
		st, _ := status(t, repo, id)
		assert.Equal(t, core.StatusCompleted, st)
	}

	pending, err := repo.ListPendingBatches(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStartStop(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo, "b1", map[string]string{"t1": "AWS invoice"})

	cfg := DefaultConfig()
	cfg.SweepInterval = 10 * time.Millisecond
	w := NewCategorizeWorker(repo, categorize.NewDefaultClassifier(true), cfg, quietLogger())

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	assert.True(t, w.IsRunning())
	assert.Error(t, w.Start(ctx), "second start must fail")

	assert.Eventually(t, func() bool {
		tx, err := repo.GetTransaction(ctx, "t1")
		return err == nil && tx.Status == core.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, w.Stop(stopCtx))
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop(stopCtx), "stopping twice is a no-op")
}

func TestSweep_RecoversRowLeftProcessingByFailedWrite(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo, "b1", map[string]string{"t1": "Amazon"})

	cfg := DefaultConfig()
	cfg.StaleAfter = 20 * time.Millisecond

	broken := NewCategorizeWorker(&failingStore{SQLiteRepository: repo, failComplete: true},
		categorize.NewDefaultClassifier(true), cfg, quietLogger())
	_, err := broken.HandleBatch(context.Background(), "b1")
	require.Error(t, err)

	w := NewCategorizeWorker(repo, categorize.NewDefaultClassifier(true), cfg, quietLogger())
	out, err := w.HandleBatch(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, BatchOutcome{Skipped: 1}, out, "redelivery leaves the claimed row alone")

	st, _ := status(t, repo, "t1")
	require.Equal(t, core.StatusProcessing, st)

	time.Sleep(2 * cfg.StaleAfter)
	w.sweep(context.Background())

	st, cat := status(t, repo, "t1")
	assert.Equal(t, core.StatusCompleted, st)
	require.NotNil(t, cat)
	assert.Equal(t, core.CategoryShopping, *cat)
}

func TestStart_RecoversStaleRowsOnEveryTick(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo, "b1", map[string]string{"t1": "Lyft"})

	cfg := DefaultConfig()
	cfg.SweepInterval = 10 * time.Millisecond
	cfg.StaleAfter = 30 * time.Millisecond
	w := NewCategorizeWorker(repo, categorize.NewDefaultClassifier(true), cfg, quietLogger())

	// Claimed after startup, so only a later tick can reset it
	ctx := context.Background()
	ok, err := repo.ClaimTransaction(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, w.Start(ctx))
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		_ = w.Stop(stopCtx)
	}()

	assert.Eventually(t, func() bool {
		tx, err := repo.GetTransaction(ctx, "t1")
		return err == nil && tx.Status == core.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

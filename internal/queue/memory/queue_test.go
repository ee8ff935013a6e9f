package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDeliversBatches(t *testing.T) {
	q := NewQueue(Config{BufferSize: 4, Workers: 2})
	ctx := context.Background()

	var mu sync.Mutex
	seen := map[string]int{}
	require.NoError(t, q.Start(ctx, func(_ context.Context, batchID string) error {
		mu.Lock()
		seen[batchID]++
		mu.Unlock()
		return nil
	}))
	t.Cleanup(func() { q.Close() })

	for _, id := range []string{"b1", "b2", "b3"} {
		require.NoError(t, q.SubmitBatch(ctx, id))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestQueueRetriesFailingJob(t *testing.T) {
	q := NewQueue(Config{Workers: 1, MaxRetries: 2, RetryDelay: time.Millisecond})
	ctx := context.Background()

	var calls atomic.Int32
	require.NoError(t, q.Start(ctx, func(context.Context, string) error {
		if calls.Add(1) < 3 {
			return errors.New("store unavailable")
		}
		return nil
	}))
	t.Cleanup(func() { q.Close() })

	require.NoError(t, q.SubmitBatch(ctx, "b1"))
	assert.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, 5*time.Millisecond)

	// No further attempts after success
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestQueueGivesUpAfterMaxRetries(t *testing.T) {
	q := NewQueue(Config{Workers: 1, MaxRetries: 1, RetryDelay: time.Millisecond})
	ctx := context.Background()

	var calls atomic.Int32
	require.NoError(t, q.Start(ctx, func(context.Context, string) error {
		calls.Add(1)
		return errors.New("always")
	}))
	t.Cleanup(func() { q.Close() })

	require.NoError(t, q.SubmitBatch(ctx, "b1"))
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestQueueSubmitAfterStop(t *testing.T) {
	q := NewQueue(DefaultConfig())
	require.NoError(t, q.Stop(context.Background()))
	require.NoError(t, q.Stop(context.Background()), "stop is idempotent")

	assert.ErrorIs(t, q.SubmitBatch(context.Background(), "b1"), ErrClosed)
	assert.ErrorIs(t, q.Start(context.Background(), func(context.Context, string) error { return nil }), ErrClosed)
}

func TestQueueSubmitRespectsContextWhenFull(t *testing.T) {
	q := NewQueue(Config{BufferSize: 1})
	require.NoError(t, q.SubmitBatch(context.Background(), "b1"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.SubmitBatch(ctx, "b2"), context.DeadlineExceeded)
}

func TestQueueStartTwice(t *testing.T) {
	q := NewQueue(DefaultConfig())
	h := func(context.Context, string) error { return nil }
	require.NoError(t, q.Start(context.Background(), h))
	t.Cleanup(func() { q.Close() })
	assert.Error(t, q.Start(context.Background(), h))
}

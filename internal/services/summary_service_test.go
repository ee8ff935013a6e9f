package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"lucro/internal/cache"
	"lucro/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	gotRange core.DateRange
	err      error
}

func (f *fakeReader) AccountSummary(_ context.Context, accountID string, dr core.DateRange) (core.AccountSummary, error) {
	f.gotRange = dr
	if f.err != nil {
		return core.AccountSummary{}, f.err
	}
	return core.AccountSummary{AccountID: accountID, Range: dr}, nil
}

func (f *fakeReader) BatchProgress(_ context.Context, batchID string) (core.BatchProgress, error) {
	if f.err != nil {
		return core.BatchProgress{}, f.err
	}
	return core.BatchProgress{BatchID: batchID, Status: core.StatusBreakdown{Completed: 2}}, nil
}

func TestSummaryService_Summarize(t *testing.T) {
	reader := &fakeReader{}
	svc := NewSummaryService(reader)
	svc.now = func() time.Time { return time.Date(2025, 10, 20, 23, 30, 0, 0, time.FixedZone("X", -5*3600)) }

	tests := []struct {
		name      string
		start     string
		end       string
		wantStart string
		wantEnd   string
		wantField string
		wantRange bool
	}{
		{name: "explicit range", start: "2025-10-01", end: "2025-10-31", wantStart: "2025-10-01", wantEnd: "2025-10-31"},
		{name: "end defaults to utc today", start: "2025-10-01", wantStart: "2025-10-01", wantEnd: "2025-10-21"},
		{name: "same day", start: "2025-10-05", end: "2025-10-05", wantStart: "2025-10-05", wantEnd: "2025-10-05"},
		{name: "missing start", end: "2025-10-31", wantField: "start_date"},
		{name: "bad start format", start: "10/01/2025", wantField: "start_date"},
		{name: "bad end format", start: "2025-10-01", end: "2025-13-01", wantField: "end_date"},
		{name: "start after end", start: "2025-10-31", end: "2025-10-01", wantRange: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := svc.Summarize(context.Background(), "acc_1", tt.start, tt.end)
			switch {
			case tt.wantField != "":
				var verrs core.ValidationErrors
				require.ErrorAs(t, err, &verrs)
				assert.Contains(t, verrs, tt.wantField)
			case tt.wantRange:
				assert.ErrorIs(t, err, core.ErrInvalidDateRange)
			default:
				require.NoError(t, err)
				assert.Equal(t, "acc_1", s.AccountID)
				assert.Equal(t, tt.wantStart, reader.gotRange.Start.Format(core.DateLayout))
				assert.Equal(t, tt.wantEnd, reader.gotRange.End.Format(core.DateLayout))
			}
		})
	}
}

func TestSummaryService_StoreError(t *testing.T) {
	svc := NewSummaryService(&fakeReader{err: errors.New("disk gone")})
	_, err := svc.Summarize(context.Background(), "acc_1", "2025-10-01", "2025-10-02")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestSummaryService_BatchProgress(t *testing.T) {
	svc := NewSummaryService(&fakeReader{})
	p, err := svc.BatchProgress(context.Background(), "b1")
	require.NoError(t, err)
	assert.True(t, p.Done())

	svc = NewSummaryService(&fakeReader{err: core.ErrBatchNotFound})
	_, err = svc.BatchProgress(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrBatchNotFound)
}

type countingReader struct {
	calls  int
	status core.StatusBreakdown
}

func (c *countingReader) AccountSummary(_ context.Context, accountID string, dr core.DateRange) (core.AccountSummary, error) {
	c.calls++
	return core.AccountSummary{AccountID: accountID, Range: dr, ProcessingStatus: c.status}, nil
}

func (c *countingReader) BatchProgress(context.Context, string) (core.BatchProgress, error) {
	return core.BatchProgress{}, nil
}

func TestSummaryService_Cache(t *testing.T) {
	ctx := context.Background()
	reader := &countingReader{status: core.StatusBreakdown{Completed: 3}}
	svc := NewSummaryService(reader).WithCache(cache.NewLRUCache[core.AccountSummary](10, time.Hour))

	for range 3 {
		_, err := svc.Summarize(ctx, "acc_1", "2025-10-01", "2025-10-31")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, reader.calls, "settled summary served from cache")

	_, err := svc.Summarize(ctx, "acc_1", "2025-10-01", "2025-10-30")
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls, "different window is a different entry")

	svc.InvalidateAccounts("acc_2")
	_, err = svc.Summarize(ctx, "acc_1", "2025-10-01", "2025-10-31")
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls)

	svc.InvalidateAccounts("acc_1")
	_, err = svc.Summarize(ctx, "acc_1", "2025-10-01", "2025-10-31")
	require.NoError(t, err)
	assert.Equal(t, 3, reader.calls, "ingest invalidation forces a recompute")
}

func TestSummaryService_CacheSkipsUnsettled(t *testing.T) {
	reader := &countingReader{status: core.StatusBreakdown{Completed: 1, Pending: 2}}
	svc := NewSummaryService(reader).WithCache(cache.NewLRUCache[core.AccountSummary](10, time.Hour))

	for range 2 {
		_, err := svc.Summarize(context.Background(), "acc_1", "2025-10-01", "2025-10-31")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, reader.calls)
}

func TestSummaryService_InvalidateWithoutCache(t *testing.T) {
	NewSummaryService(&countingReader{}).InvalidateAccounts("acc_1")
}

// ingestingReader simulates a batch committing while the aggregate query runs.
type ingestingReader struct {
	countingReader
	svc *SummaryService
}

func (r *ingestingReader) AccountSummary(ctx context.Context, accountID string, dr core.DateRange) (core.AccountSummary, error) {
	s, err := r.countingReader.AccountSummary(ctx, accountID, dr)
	if r.calls == 1 {
		r.svc.InvalidateAccounts(accountID)
	}
	return s, err
}

func TestSummaryService_CacheSkipsReadOverlappingIngest(t *testing.T) {
	reader := &ingestingReader{countingReader: countingReader{status: core.StatusBreakdown{Completed: 1}}}
	svc := NewSummaryService(reader).WithCache(cache.NewLRUCache[core.AccountSummary](10, time.Hour))
	reader.svc = svc

	for range 3 {
		_, err := svc.Summarize(context.Background(), "acc_1", "2025-10-01", "2025-10-31")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, reader.calls, "the overlapped read is recomputed, the next one is cached")
}

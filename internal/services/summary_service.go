package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"lucro/internal/cache"
	"lucro/internal/core"
)

// SummaryReader is the read side of the store used for reports.
type SummaryReader interface {
	AccountSummary(ctx context.Context, accountID string, dr core.DateRange) (core.AccountSummary, error)
	BatchProgress(ctx context.Context, batchID string) (core.BatchProgress, error)
}

type SummaryService struct {
	reader SummaryReader
	cache  cache.Cache[core.AccountSummary]
	now    func() time.Time

	// mu orders cache writes against invalidations; generation counts
	// invalidations so a read that overlapped one is not cached.
	mu         sync.Mutex
	generation uint64
}

func NewSummaryService(reader SummaryReader) *SummaryService {
	return &SummaryService{
		reader: reader,
		now:    time.Now,
	}
}

// WithCache makes s remember settled summaries in c. A summary with rows
// still pending or processing is always recomputed.
func (s *SummaryService) WithCache(c cache.Cache[core.AccountSummary]) *SummaryService {
	s.cache = c
	return s
}

// Summarize parses the report window and aggregates the account over it.
// startDate is required; an empty endDate means today in UTC.
func (s *SummaryService) Summarize(ctx context.Context, accountID, startDate, endDate string) (core.AccountSummary, error) {
	dr, err := s.parseRange(startDate, endDate)
	if err != nil {
		return core.AccountSummary{}, err
	}

	key := summaryKey(accountID, dr)
	var gen uint64
	if s.cache != nil {
		if summary, ok := s.cache.Get(key); ok {
			return summary, nil
		}
		s.mu.Lock()
		gen = s.generation
		s.mu.Unlock()
	}

	summary, err := s.reader.AccountSummary(ctx, accountID, dr)
	if err != nil {
		return core.AccountSummary{}, fmt.Errorf("account summary: %w", err)
	}

	if s.cache != nil && summary.ProcessingStatus.Settled() {
		s.mu.Lock()
		if s.generation == gen {
			s.cache.Set(key, summary)
		}
		s.mu.Unlock()
	}
	return summary, nil
}

// InvalidateAccounts drops cached summaries of the given accounts. It is
// called after a batch touching them committed.
func (s *SummaryService) InvalidateAccounts(accountIDs ...string) {
	if s.cache == nil || len(accountIDs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++

	prefixes := make([]string, len(accountIDs))
	for i, id := range accountIDs {
		prefixes[i] = id + "|"
	}
	s.cache.DeleteFunc(func(key string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(key, p) {
				return true
			}
		}
		return false
	})
}

// summaryKey is "account|start|end"; "|" cannot appear in the dates.
func summaryKey(accountID string, dr core.DateRange) string {
	return accountID + "|" + dr.Start.Format(core.DateLayout) + "|" + dr.End.Format(core.DateLayout)
}

func (s *SummaryService) parseRange(startDate, endDate string) (core.DateRange, error) {
	errs := core.ValidationErrors{}

	startDate = strings.TrimSpace(startDate)
	endDate = strings.TrimSpace(endDate)

	var start, end time.Time
	if startDate == "" {
		errs.Add("start_date", "This query parameter is required.")
	} else if t, err := time.Parse(core.DateLayout, startDate); err != nil {
		errs.Add("start_date", "Invalid date format. Use YYYY-MM-DD.")
	} else {
		start = t
	}

	if endDate == "" {
		end = s.now().UTC()
	} else if t, err := time.Parse(core.DateLayout, endDate); err != nil {
		errs.Add("end_date", "Invalid date format. Use YYYY-MM-DD.")
	} else {
		end = t
	}

	if err := errs.Err(); err != nil {
		return core.DateRange{}, err
	}
	return core.NewDateRange(start, end)
}

// BatchProgress reports per-status counts for one batch.
func (s *SummaryService) BatchProgress(ctx context.Context, batchID string) (core.BatchProgress, error) {
	p, err := s.reader.BatchProgress(ctx, batchID)
	if err != nil {
		return core.BatchProgress{}, fmt.Errorf("batch progress: %w", err)
	}
	return p, nil
}

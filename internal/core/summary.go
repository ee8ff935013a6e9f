package core

import "time"

// DateLayout is the calendar date format used on the report boundary.
const DateLayout = "2006-01-02"

// TopCategoriesLimit caps the number of ranked categories in a summary.
const TopCategoriesLimit = 5

// DateRange is an inclusive window of UTC calendar dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange truncates start and end to UTC dates and checks their order.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: toDate(start), End: toDate(end)}
	if r.Start.After(r.End) {
		return DateRange{}, ErrInvalidDateRange
	}
	return r, nil
}

// Contains reports whether the UTC calendar date of t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	d := toDate(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

func toDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StatusBreakdown counts transactions per ingestion status.
type StatusBreakdown struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// Add records n transactions in status; unknown statuses are ignored.
func (b *StatusBreakdown) Add(status IngestionStatus, n int64) {
	switch status {
	case StatusPending:
		b.Pending += n
	case StatusProcessing:
		b.Processing += n
	case StatusCompleted:
		b.Completed += n
	case StatusFailed:
		b.Failed += n
	}
}

func (b StatusBreakdown) Total() int64 {
	return b.Pending + b.Processing + b.Completed + b.Failed
}

// Settled reports whether every counted row reached a final status.
func (b StatusBreakdown) Settled() bool {
	return b.Pending == 0 && b.Processing == 0
}

// SummaryMetrics holds the headline numbers of an account summary.
type SummaryMetrics struct {
	TotalTransactions int64
	TotalSpend        Money // absolute value of the sum of expenses
	TotalIncome       Money
	Net               Money
}

// CategorySpend is one ranked entry of a summary's top categories.
type CategorySpend struct {
	Category         Category
	TotalSpend       Money
	TransactionCount int64
}

// AccountSummary is the aggregate view of one account over a date range.
type AccountSummary struct {
	AccountID        string
	Range            DateRange
	Metrics          SummaryMetrics
	TopCategories    []CategorySpend
	ProcessingStatus StatusBreakdown
}

// BatchProgress reports how far enrichment of one batch has progressed.
type BatchProgress struct {
	BatchID string
	Status  StatusBreakdown
}

// Done reports whether no row of the batch is waiting or in flight.
func (p BatchProgress) Done() bool {
	return p.Status.Settled()
}

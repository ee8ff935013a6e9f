package storage

import (
	"context"
	"fmt"

	"lucro/internal/core"

	"golang.org/x/sync/errgroup"
)

// AccountSummary aggregates one account's transactions whose UTC calendar
// date falls inside dr. An account without transactions yields zeros.
func (r *SQLiteRepository) AccountSummary(ctx context.Context, accountID string, dr core.DateRange) (core.AccountSummary, error) {
	summary := core.AccountSummary{AccountID: accountID, Range: dr}
	start := dr.Start.Format(core.DateLayout)
	end := dr.End.Format(core.DateLayout)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var spend, income int64
		err := r.db.QueryRowContext(gctx,
			`SELECT COUNT(*),
				COALESCE(SUM(CASE WHEN amount_cents < 0 THEN amount_cents END), 0),
				COALESCE(SUM(CASE WHEN amount_cents > 0 THEN amount_cents END), 0)
			FROM transactions
			WHERE account_id = ? AND occurred_on BETWEEN ? AND ?`,
			accountID, start, end).Scan(&summary.Metrics.TotalTransactions, &spend, &income)
		if err != nil {
			return fmt.Errorf("summary metrics: %w", err)
		}
		summary.Metrics.TotalSpend = core.Money{Cents: spend}.Abs()
		summary.Metrics.TotalIncome = core.Money{Cents: income}
		summary.Metrics.Net = summary.Metrics.TotalIncome.Sub(summary.Metrics.TotalSpend)
		return nil
	})

	g.Go(func() error {
		rows, err := r.db.QueryContext(gctx,
			`SELECT category,
				-COALESCE(SUM(CASE WHEN amount_cents < 0 THEN amount_cents END), 0) AS spend,
				COUNT(*)
			FROM transactions
			WHERE account_id = ? AND occurred_on BETWEEN ? AND ? AND category IS NOT NULL
			GROUP BY category
			ORDER BY spend DESC, category ASC
			LIMIT ?`,
			accountID, start, end, core.TopCategoriesLimit)
		if err != nil {
			return fmt.Errorf("summary top categories: %w", err)
		}
		defer rows.Close()

		top := make([]core.CategorySpend, 0, core.TopCategoriesLimit)
		for rows.Next() {
			var (
				c     core.CategorySpend
				name  string
				spend int64
			)
			if err := rows.Scan(&name, &spend, &c.TransactionCount); err != nil {
				return fmt.Errorf("scan top category: %w", err)
			}
			c.Category = core.Category(name)
			c.TotalSpend = core.Money{Cents: spend}
			top = append(top, c)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate top categories: %w", err)
		}
		summary.TopCategories = top
		return nil
	})

	g.Go(func() error {
		rows, err := r.db.QueryContext(gctx,
			`SELECT ingestion_status, COUNT(*)
			FROM transactions
			WHERE account_id = ? AND occurred_on BETWEEN ? AND ?
			GROUP BY ingestion_status`,
			accountID, start, end)
		if err != nil {
			return fmt.Errorf("summary status breakdown: %w", err)
		}
		defer rows.Close()

		b, err := scanBreakdown(rows)
		if err != nil {
			return fmt.Errorf("summary status breakdown: %w", err)
		}
		summary.ProcessingStatus = b
		return nil
	})

	if err := g.Wait(); err != nil {
		return core.AccountSummary{}, err
	}
	return summary, nil
}

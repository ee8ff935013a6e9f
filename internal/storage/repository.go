package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"lucro/internal/core"

	_ "modernc.org/sqlite"
)

// timeLayout keeps stored timestamps fixed width so they compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const (
	// sqlite caps bound parameters per statement; stay well below it
	lookupChunkSize      = 500
	accountInsertRows    = 100
	transactionInsertRow = 50
)

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// InsertBatchResult describes what a batch write persisted.
type InsertBatchResult struct {
	NewAccounts     int
	SkippedAccounts int
	Transactions    int
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// InsertBatch writes accounts and transactions in a single database
// transaction. Accounts whose id already exists are skipped, never updated.
// Every transaction is stored pending and tagged with batchID. Unknown
// account references or already stored transaction ids abort the whole
// write.
func (r *SQLiteRepository) InsertBatch(ctx context.Context, batchID string, accounts []core.Account, txns []core.Transaction) (InsertBatchResult, error) {
	var res InsertBatchResult

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin batch transaction: %w", err)
	}
	defer tx.Rollback()

	now := r.now()

	incoming := make([]core.Account, 0, len(accounts))
	incomingIDs := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		if incomingIDs[a.ID] {
			res.SkippedAccounts++
			continue
		}
		incomingIDs[a.ID] = true
		incoming = append(incoming, a)
	}

	existing, err := existingIDs(ctx, tx, "accounts", "account_id", keys(incomingIDs))
	if err != nil {
		return res, fmt.Errorf("lookup existing accounts: %w", err)
	}

	fresh := make([]core.Account, 0, len(incoming))
	for _, a := range incoming {
		if existing[a.ID] {
			res.SkippedAccounts++
			continue
		}
		fresh = append(fresh, a)
	}
	inserted, err := insertAccounts(ctx, tx, fresh, now)
	if err != nil {
		return res, err
	}
	res.NewAccounts = inserted
	res.SkippedAccounts += len(fresh) - inserted

	// Accounts referenced by transactions but not part of this request must
	// already be stored.
	var outside []string
	seen := make(map[string]bool)
	for _, t := range txns {
		if incomingIDs[t.AccountID] || seen[t.AccountID] {
			continue
		}
		seen[t.AccountID] = true
		outside = append(outside, t.AccountID)
	}
	if len(outside) > 0 {
		stored, err := existingIDs(ctx, tx, "accounts", "account_id", outside)
		if err != nil {
			return res, fmt.Errorf("lookup referenced accounts: %w", err)
		}
		var missing []string
		for _, id := range outside {
			if !stored[id] {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return res, &core.UnknownAccountsError{AccountIDs: missing}
		}
	}

	txnIDs := make([]string, len(txns))
	for i, t := range txns {
		txnIDs[i] = t.ID
	}
	dups, err := existingIDs(ctx, tx, "transactions", "transaction_id", txnIDs)
	if err != nil {
		return res, fmt.Errorf("lookup existing transactions: %w", err)
	}
	if len(dups) > 0 {
		return res, &core.DuplicateTransactionsError{TransactionIDs: keys(dups)}
	}

	if err := insertTransactions(ctx, tx, batchID, txns, now); err != nil {
		return res, err
	}
	res.Transactions = len(txns)

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit batch transaction: %w", err)
	}

	slog.InfoContext(ctx, "Batch persisted",
		"batch_id", batchID,
		"new_accounts", res.NewAccounts,
		"skipped_accounts", res.SkippedAccounts,
		"transactions", res.Transactions)

	return res, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// existingIDs returns which of ids are present in table.column.
func existingIDs(ctx context.Context, q querier, table, column string, ids []string) (map[string]bool, error) {
	found := make(map[string]bool)
	for start := 0; start < len(ids); start += lookupChunkSize {
		end := min(start+lookupChunkSize, len(ids))
		chunk := ids[start:end]

		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)", column, table, column, placeholders(len(chunk)))
		rows, err := q.QueryContext(ctx, query, stringArgs(chunk)...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			found[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return found, nil
}

// insertAccounts returns how many rows were written; rows that lost an
// ON CONFLICT race are not counted.
func insertAccounts(ctx context.Context, tx *sql.Tx, accounts []core.Account, now time.Time) (int, error) {
	ts := now.Format(timeLayout)
	inserted := 0
	for start := 0; start < len(accounts); start += accountInsertRows {
		chunk := accounts[start:min(start+accountInsertRows, len(accounts))]

		values := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*7)
		for i, a := range chunk {
			values[i] = "(?, ?, ?, ?, ?, ?, ?)"
			args = append(args, a.ID, a.Name, a.Type, nullString(a.Subtype), nullString(a.Mask), ts, ts)
		}

		query := `INSERT INTO accounts (account_id, name, type, subtype, mask, created_at, updated_at)
			VALUES ` + strings.Join(values, ", ") + `
			ON CONFLICT(account_id) DO NOTHING`
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return inserted, fmt.Errorf("insert accounts: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("insert accounts: %w", err)
		}
		inserted += int(n)
	}
	return inserted, nil
}

func insertTransactions(ctx context.Context, tx *sql.Tx, batchID string, txns []core.Transaction, now time.Time) error {
	ts := now.Format(timeLayout)
	for start := 0; start < len(txns); start += transactionInsertRow {
		chunk := txns[start:min(start+transactionInsertRow, len(txns))]

		values := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*12)
		for i, t := range chunk {
			values[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?)"
			date := t.Date.UTC()
			args = append(args,
				t.ID, t.AccountID, t.Amount.Cents, strings.ToUpper(t.Currency),
				date.Format(timeLayout), date.Format(core.DateLayout),
				nullString(t.MerchantName), t.Description, batchID,
				ts, ts)
		}

		query := `INSERT INTO transactions (
				transaction_id, account_id, amount_cents, currency,
				occurred_at, occurred_on, merchant_name, description, batch_id,
				ingestion_status, created_at, updated_at)
			VALUES ` + strings.Join(values, ", ")
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert transactions: %w", err)
		}
	}
	return nil
}

const transactionColumns = `transaction_id, account_id, amount_cents, currency, occurred_at,
	merchant_name, description, category, batch_id, ingestion_status, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (core.Transaction, error) {
	var (
		t                            core.Transaction
		occurredAt, created, updated string
		merchant, category           sql.NullString
		status                       string
	)
	err := s.Scan(&t.ID, &t.AccountID, &t.Amount.Cents, &t.Currency, &occurredAt,
		&merchant, &t.Description, &category, &t.BatchID, &status, &created, &updated)
	if err != nil {
		return t, err
	}

	t.Status = core.IngestionStatus(status)
	if merchant.Valid {
		t.MerchantName = &merchant.String
	}
	if category.Valid {
		c := core.Category(category.String)
		t.Category = &c
	}
	if t.Date, err = time.Parse(timeLayout, occurredAt); err != nil {
		return t, fmt.Errorf("parse occurred_at: %w", err)
	}
	if t.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return t, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return t, fmt.Errorf("parse updated_at: %w", err)
	}
	return t, nil
}

// GetTransaction retrieves a single transaction by id.
func (r *SQLiteRepository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE transaction_id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		return t, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return t, nil
}

// GetAccount retrieves a single account by id.
func (r *SQLiteRepository) GetAccount(ctx context.Context, id string) (core.Account, error) {
	var (
		a                core.Account
		subtype, mask    sql.NullString
		created, updated string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT account_id, name, type, subtype, mask, created_at, updated_at
		FROM accounts WHERE account_id = ?`, id).
		Scan(&a.ID, &a.Name, &a.Type, &subtype, &mask, &created, &updated)
	if err != nil {
		return a, fmt.Errorf("get account %s: %w", id, err)
	}
	if subtype.Valid {
		a.Subtype = &subtype.String
	}
	if mask.Valid {
		a.Mask = &mask.String
	}
	if a.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return a, fmt.Errorf("get account %s: parse created_at: %w", id, err)
	}
	if a.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return a, fmt.Errorf("get account %s: parse updated_at: %w", id, err)
	}
	return a, nil
}

// ListBatchTransactions returns every transaction tagged with batchID in
// transaction id order.
func (r *SQLiteRepository) ListBatchTransactions(ctx context.Context, batchID string) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE batch_id = ? ORDER BY transaction_id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list batch transactions: %w", err)
	}
	defer rows.Close()

	var txns []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch transaction: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch transactions: %w", err)
	}
	return txns, nil
}

// ClaimTransaction moves a pending transaction to processing. It reports
// false when the row was not pending, so concurrent workers never both
// enrich the same row.
func (r *SQLiteRepository) ClaimTransaction(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET ingestion_status = 'processing', updated_at = ?
		WHERE transaction_id = ? AND ingestion_status = 'pending'`,
		r.now().Format(timeLayout), id)
	if err != nil {
		return false, fmt.Errorf("claim transaction %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim transaction %s: %w", id, err)
	}
	return n == 1, nil
}

// CompleteTransaction stores the category of a processing transaction and
// marks it completed.
func (r *SQLiteRepository) CompleteTransaction(ctx context.Context, id string, category core.Category) error {
	return r.finish(ctx, id, core.StatusCompleted, sql.NullString{String: string(category), Valid: true})
}

// FailTransaction marks a processing transaction failed and leaves it
// uncategorized.
func (r *SQLiteRepository) FailTransaction(ctx context.Context, id string) error {
	return r.finish(ctx, id, core.StatusFailed, sql.NullString{})
}

var ErrNotProcessing = errors.New("transaction is not processing")

func (r *SQLiteRepository) finish(ctx context.Context, id string, status core.IngestionStatus, category sql.NullString) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET ingestion_status = ?, category = ?, updated_at = ?
		WHERE transaction_id = ? AND ingestion_status = 'processing'`,
		string(status), category, r.now().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("mark transaction %s %s: %w", id, status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark transaction %s %s: %w", id, status, err)
	}
	if n == 0 {
		return fmt.Errorf("mark transaction %s %s: %w", id, status, ErrNotProcessing)
	}
	return nil
}

// ListPendingBatches returns up to limit batch ids that still hold pending
// rows, oldest first.
func (r *SQLiteRepository) ListPendingBatches(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT batch_id FROM transactions
		WHERE ingestion_status = 'pending'
		GROUP BY batch_id
		ORDER BY MIN(created_at), batch_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending batches: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending batch: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResetStaleProcessing returns rows stuck in processing for longer than
// olderThan to pending, e.g. after a worker crashed mid-row.
func (r *SQLiteRepository) ResetStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := r.now()
	cutoff := now.Add(-olderThan).Format(timeLayout)
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET ingestion_status = 'pending', updated_at = ?
		WHERE ingestion_status = 'processing' AND updated_at < ?`,
		now.Format(timeLayout), cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stale processing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset stale processing: %w", err)
	}
	if n > 0 {
		slog.WarnContext(ctx, "Reset stale processing transactions", "count", n, "older_than", olderThan)
	}
	return n, nil
}

// BatchProgress counts the transactions of a batch per ingestion status.
func (r *SQLiteRepository) BatchProgress(ctx context.Context, batchID string) (core.BatchProgress, error) {
	p := core.BatchProgress{BatchID: batchID}
	rows, err := r.db.QueryContext(ctx,
		`SELECT ingestion_status, COUNT(*) FROM transactions
		WHERE batch_id = ? GROUP BY ingestion_status`, batchID)
	if err != nil {
		return p, fmt.Errorf("batch progress: %w", err)
	}
	defer rows.Close()

	p.Status, err = scanBreakdown(rows)
	if err != nil {
		return p, fmt.Errorf("batch progress: %w", err)
	}
	if p.Status.Total() == 0 {
		return p, core.ErrBatchNotFound
	}
	return p, nil
}

func scanBreakdown(rows *sql.Rows) (core.StatusBreakdown, error) {
	var b core.StatusBreakdown
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return b, err
		}
		b.Add(core.IngestionStatus(status), n)
	}
	return b, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func stringArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

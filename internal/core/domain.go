package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

const (
	StatusPending    IngestionStatus = "pending"
	StatusProcessing IngestionStatus = "processing"
	StatusCompleted  IngestionStatus = "completed"
	StatusFailed     IngestionStatus = "failed"
)

const (
	CategoryShopping  Category = "Shopping"
	CategoryIncome    Category = "Income"
	CategoryTransport Category = "Transport"
	CategorySoftware  Category = "Software"
	CategoryOther     Category = "Other"
)

// Column limits inherited from the persisted schema.
const (
	MaxAccountIDLen     = 100
	MaxAccountNameLen   = 255
	MaxAccountTypeLen   = 50
	MaxAccountMaskLen   = 10
	MaxTransactionIDLen = 100
	MaxMerchantNameLen  = 255
)

type (
	// IngestionStatus is the enrichment state of a transaction.
	IngestionStatus string

	// Category is the closed spending taxonomy assigned by enrichment.
	Category string

	Account struct {
		ID        string
		Name      string
		Type      string
		Subtype   *string
		Mask      *string
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	Transaction struct {
		ID           string
		AccountID    string
		Amount       Money
		Currency     string
		Date         time.Time
		MerchantName *string
		Description  string
		Category     *Category // nil until enriched
		BatchID      string
		Status       IngestionStatus
		CreatedAt    time.Time
		UpdatedAt    time.Time
	}

	// BatchResult is returned to the integration after a successful write.
	BatchResult struct {
		BatchID           string
		TotalTransactions int
	}
)

var (
	ErrUnknownAccount       = errors.New("unknown account")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrNoCategory           = errors.New("no category matched")
	ErrInvalidDateRange     = errors.New("start_date cannot be after end_date")
	ErrBatchNotFound        = errors.New("batch not found")
)

// Statuses lists the known ingestion statuses in state machine order.
func Statuses() []IngestionStatus {
	return []IngestionStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
}

func (s IngestionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func (c Category) Valid() bool {
	switch c {
	case CategoryShopping, CategoryIncome, CategoryTransport, CategorySoftware, CategoryOther:
		return true
	}
	return false
}

// UnknownAccountsError reports transactions that reference accounts neither
// stored nor included in the same batch.
type UnknownAccountsError struct {
	AccountIDs []string
}

func (e *UnknownAccountsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnknownAccount, strings.Join(e.AccountIDs, ", "))
}

func (e *UnknownAccountsError) Is(target error) bool {
	return target == ErrUnknownAccount
}

// DuplicateTransactionsError reports transaction ids that already exist.
type DuplicateTransactionsError struct {
	TransactionIDs []string
}

func (e *DuplicateTransactionsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicateTransaction, strings.Join(e.TransactionIDs, ", "))
}

func (e *DuplicateTransactionsError) Is(target error) bool {
	return target == ErrDuplicateTransaction
}

// ValidationErrors maps a field path to its problems.
type ValidationErrors map[string][]string

func (v ValidationErrors) Add(field, msg string) {
	v[field] = append(v[field], msg)
}

// Merge copies other into v, prefixing every field with prefix.
func (v ValidationErrors) Merge(prefix string, other ValidationErrors) {
	for field, msgs := range other {
		for _, msg := range msgs {
			v.Add(prefix+field, msg)
		}
	}
}

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+strings.Join(v[f], "; "))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Err returns nil when no problem was recorded.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

const (
	msgRequired = "This field is required."
	msgBlank    = "This field may not be blank."
)

func checkString(errs ValidationErrors, field, value string, max int) {
	if strings.TrimSpace(value) == "" {
		errs.Add(field, msgBlank)
		return
	}
	if len(value) > max {
		errs.Add(field, fmt.Sprintf("Ensure this field has no more than %d characters.", max))
	}
}

func checkOptional(errs ValidationErrors, field string, value *string, max int) {
	if value != nil && len(*value) > max {
		errs.Add(field, fmt.Sprintf("Ensure this field has no more than %d characters.", max))
	}
}

func (a Account) Validate() error {
	errs := ValidationErrors{}
	checkString(errs, "account_id", a.ID, MaxAccountIDLen)
	checkString(errs, "name", a.Name, MaxAccountNameLen)
	checkString(errs, "type", a.Type, MaxAccountTypeLen)
	checkOptional(errs, "subtype", a.Subtype, MaxAccountTypeLen)
	checkOptional(errs, "mask", a.Mask, MaxAccountMaskLen)
	return errs.Err()
}

func (t Transaction) Validate() error {
	errs := ValidationErrors{}
	checkString(errs, "transaction_id", t.ID, MaxTransactionIDLen)
	checkString(errs, "account_id", t.AccountID, MaxAccountIDLen)
	if !IsCurrencyCode(t.Currency) {
		errs.Add("iso_currency_code", "Must be a 3-letter ISO currency code.")
	}
	if t.Date.IsZero() {
		errs.Add("date", msgRequired)
	}
	checkOptional(errs, "merchant_name", t.MerchantName, MaxMerchantNameLen)
	if strings.TrimSpace(t.Description) == "" {
		errs.Add("name", msgBlank)
	}
	return errs.Err()
}

// IsCurrencyCode reports whether code looks like an ISO 4217 alpha code.
func IsCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if !unicode.IsLetter(r) || r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// ValidateBatch validates every account and transaction of one ingestion
// request. Field paths are prefixed with the list name and index, e.g.
// "transactions[2].amount". A transaction id repeated inside the request is
// reported on each repetition.
func ValidateBatch(accounts []Account, txns []Transaction) error {
	errs := ValidationErrors{}
	for i, a := range accounts {
		var verrs ValidationErrors
		if errors.As(a.Validate(), &verrs) {
			errs.Merge(fmt.Sprintf("accounts[%d].", i), verrs)
		}
	}

	seen := make(map[string]bool, len(txns))
	for i, t := range txns {
		prefix := fmt.Sprintf("transactions[%d].", i)
		var verrs ValidationErrors
		if errors.As(t.Validate(), &verrs) {
			errs.Merge(prefix, verrs)
		}
		if t.ID == "" {
			continue
		}
		if seen[t.ID] {
			errs.Add(prefix+"transaction_id", "Duplicate transaction_id in request.")
		}
		seen[t.ID] = true
	}
	return errs.Err()
}

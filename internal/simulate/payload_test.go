package simulate

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 10, 20, 15, 4, 5, 0, time.UTC)

func newTestGenerator(seed int64) *Generator {
	g := NewGenerator(seed)
	g.now = func() time.Time { return fixedNow }
	return g
}

func TestBuild_Shape(t *testing.T) {
	p, err := newTestGenerator(1).Build(DefaultAccounts, 200)
	require.NoError(t, err)
	require.Len(t, p.Accounts, DefaultAccounts)
	require.Len(t, p.Transactions, 200)

	accounts := map[string]bool{}
	for _, a := range p.Accounts {
		assert.Regexp(t, `^acc_sim_\d{4}$`, a.AccountID)
		assert.Equal(t, "checking", a.Type)
		accounts[a.AccountID] = true
	}
	assert.Len(t, accounts, DefaultAccounts, "account ids are unique")

	txIDs := map[string]bool{}
	oldest := fixedNow.AddDate(0, 0, -historyDays)
	var income int
	for _, tx := range p.Transactions {
		assert.True(t, strings.HasPrefix(tx.TransactionID, "tx_sim_"))
		assert.False(t, txIDs[tx.TransactionID], "duplicate id %s", tx.TransactionID)
		txIDs[tx.TransactionID] = true

		assert.True(t, accounts[tx.AccountID], "unknown account %s", tx.AccountID)
		assert.Equal(t, "USD", tx.ISOCurrencyCode)

		when, err := time.Parse(time.RFC3339, tx.Date)
		require.NoError(t, err)
		assert.True(t, when.After(oldest) && !when.After(fixedNow), "date %s out of range", tx.Date)

		amt, err := decimal.NewFromString(tx.Amount)
		require.NoError(t, err)
		assert.Regexp(t, `^-?\d+\.\d{2}$`, tx.Amount)
		if amt.IsPositive() {
			income++
			assert.True(t, amt.GreaterThanOrEqual(decimal.NewFromInt(100)) && amt.LessThanOrEqual(decimal.NewFromInt(3000)), tx.Amount)
		} else {
			assert.True(t, amt.LessThanOrEqual(decimal.NewFromInt(-3)) && amt.GreaterThanOrEqual(decimal.NewFromInt(-250)), tx.Amount)
		}
	}
	// 15% of 200 is 30; the bounds only catch a broken split
	assert.Greater(t, income, 5)
	assert.Less(t, income, 80)
}

func TestBuild_SameSeedSamePayload(t *testing.T) {
	a, err := newTestGenerator(42).Build(2, 10)
	require.NoError(t, err)
	b, err := newTestGenerator(42).Build(2, 10)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := newTestGenerator(43).Build(2, 10)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name         string
		accounts     int
		transactions int
	}{
		{"no accounts", 0, 5},
		{"negative transactions", 1, -1},
		{"too many accounts", 9001, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestGenerator(1).Build(tt.accounts, tt.transactions)
			assert.Error(t, err)
		})
	}
}

func TestBuild_EmptyTransactions(t *testing.T) {
	p, err := newTestGenerator(1).Build(1, 0)
	require.NoError(t, err)
	assert.NotNil(t, p.Transactions)
	assert.Empty(t, p.Transactions)
	assert.Equal(t, []string{p.Accounts[0].AccountID}, p.AccountIDs())
}

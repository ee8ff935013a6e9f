// Package simulate builds synthetic ingestion payloads and posts them to a
// running server. It exists to exercise the pipeline end to end.
package simulate

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// DefaultAccounts is how many accounts a generated batch spreads over
	DefaultAccounts = 3

	incomeShare = 0.15
	historyDays = 30
)

type merchant struct {
	name        string
	description string
}

var merchants = []merchant{
	{"Amazon", "Amazon Marketplace"},
	{"AWS", "Amazon Web Service"},
	{"Azure", "Microsoft Azure"},
	{"Lyft", "Lyft Rides"},
	{"Paypal", "Paypal"},
	{"Stripe", "Stripe Payments"},
	{"Uber", "Uber"},
}

// Account is the wire shape of an account in an ingestion request.
type Account struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	Mask      string `json:"mask"`
}

// Transaction is the wire shape of a transaction in an ingestion request.
type Transaction struct {
	TransactionID   string `json:"transaction_id"`
	AccountID       string `json:"account_id"`
	Amount          string `json:"amount"`
	ISOCurrencyCode string `json:"iso_currency_code"`
	Date            string `json:"date"`
	AuthorizedDate  string `json:"authorized_date"`
	Name            string `json:"name"`
	MerchantName    string `json:"merchant_name"`
	PaymentChannel  string `json:"payment_channel"`
	Pending         bool   `json:"pending"`
}

// Payload is a complete POST /integrations/transactions/ body.
type Payload struct {
	Accounts     []Account     `json:"accounts"`
	Transactions []Transaction `json:"transactions"`
}

// AccountIDs lists the ids of p's accounts in order.
func (p Payload) AccountIDs() []string {
	ids := make([]string, len(p.Accounts))
	for i, a := range p.Accounts {
		ids[i] = a.AccountID
	}
	return ids
}

// Generator produces random payloads. A Generator is not safe for
// concurrent use.
type Generator struct {
	rng *rand.Rand
	now func() time.Time
}

// NewGenerator returns a Generator seeded with seed. Equal seeds and clocks
// produce equal payloads.
func NewGenerator(seed int64) *Generator {
	return &Generator{
		rng: rand.New(rand.NewSource(seed)),
		now: time.Now,
	}
}

// Build returns a payload with numAccounts accounts and numTransactions
// transactions spread randomly across them. Roughly 15% of the
// transactions are income; the rest are expenses.
func (g *Generator) Build(numAccounts, numTransactions int) (Payload, error) {
	if numAccounts < 1 {
		return Payload{}, fmt.Errorf("need at least one account, got %d", numAccounts)
	}
	if numTransactions < 0 {
		return Payload{}, fmt.Errorf("transaction count must not be negative, got %d", numTransactions)
	}
	// acc_sim_XXXX has 9000 possible ids
	if numAccounts > 9000 {
		return Payload{}, fmt.Errorf("at most 9000 accounts per payload, got %d", numAccounts)
	}

	p := Payload{
		Accounts:     make([]Account, 0, numAccounts),
		Transactions: make([]Transaction, 0, numTransactions),
	}

	seen := make(map[string]bool, numAccounts)
	for len(p.Accounts) < numAccounts {
		id := fmt.Sprintf("acc_sim_%04d", 1000+g.rng.Intn(9000))
		if seen[id] {
			continue
		}
		seen[id] = true
		p.Accounts = append(p.Accounts, Account{
			AccountID: id,
			Name:      "Simulated Account",
			Type:      "checking",
			Subtype:   "simulated",
			Mask:      "0000",
		})
	}

	for range numTransactions {
		t, err := g.transaction(p.Accounts[g.rng.Intn(len(p.Accounts))].AccountID)
		if err != nil {
			return Payload{}, err
		}
		p.Transactions = append(p.Transactions, t)
	}
	return p, nil
}

func (g *Generator) transaction(accountID string) (Transaction, error) {
	id, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		return Transaction{}, fmt.Errorf("generate transaction id: %w", err)
	}
	m := merchants[g.rng.Intn(len(merchants))]
	when := g.now().UTC().AddDate(0, 0, -g.rng.Intn(historyDays))

	return Transaction{
		TransactionID:   "tx_sim_" + id.String(),
		AccountID:       accountID,
		Amount:          g.amount().StringFixed(2),
		ISOCurrencyCode: "USD",
		Date:            when.Format(time.RFC3339),
		AuthorizedDate:  when.Format(time.DateOnly),
		Name:            m.description,
		MerchantName:    m.name,
		PaymentChannel:  "online",
	}, nil
}

// amount draws income from [100, 3000] and expenses from [-250, -3].
func (g *Generator) amount() decimal.Decimal {
	if g.rng.Float64() < incomeShare {
		return between(g.rng, 100, 3000)
	}
	return between(g.rng, 3, 250).Neg()
}

func between(rng *rand.Rand, lo, hi int64) decimal.Decimal {
	cents := lo*100 + rng.Int63n((hi-lo)*100+1)
	return decimal.New(cents, -2)
}

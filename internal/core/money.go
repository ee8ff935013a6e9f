// Package core provides money parsing and handling utilities.
//
// Amounts are signed: negative values are expenses, positive values income.
// They travel as decimals at the edges and as integer cents in storage so
// that aggregate sums stay exact.
package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// AmountMaxDigits is the total number of significant digits allowed.
	AmountMaxDigits = 12
	// AmountDecimalPlaces is the number of fractional digits allowed.
	AmountDecimalPlaces = 2
)

var (
	ErrInvalidAmount = errors.New("invalid amount")

	amountLimit = decimal.New(1, AmountMaxDigits-AmountDecimalPlaces)
)

// Money is a signed amount expressed in minor units.
type Money struct {
	Cents int64
}

// ParseAmount parses a decimal string such as "-12.34" into Money.
//
// It rejects values with more than two fractional digits or more than
// twelve digits in total instead of rounding them.
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, s)
	}
	return MoneyFromDecimal(d)
}

// MoneyFromDecimal converts d to Money enforcing the amount precision limits.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	if !d.Equal(d.Truncate(AmountDecimalPlaces)) {
		return Money{}, fmt.Errorf("%w: no more than %d decimal places allowed", ErrInvalidAmount, AmountDecimalPlaces)
	}
	if d.Abs().GreaterThanOrEqual(amountLimit) {
		return Money{}, fmt.Errorf("%w: no more than %d digits in total allowed", ErrInvalidAmount, AmountMaxDigits)
	}
	return Money{Cents: d.Shift(AmountDecimalPlaces).IntPart()}, nil
}

// Decimal returns the amount as a decimal value.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -AmountDecimalPlaces)
}

// String renders the amount with exactly two decimals, e.g. "-12.30".
func (m Money) String() string {
	return m.Decimal().StringFixed(AmountDecimalPlaces)
}

func (m Money) Abs() Money {
	if m.Cents < 0 {
		return Money{Cents: -m.Cents}
	}
	return m
}

func (m Money) Sub(o Money) Money {
	return Money{Cents: m.Cents - o.Cents}
}

func (m Money) IsExpense() bool { return m.Cents < 0 }

// MarshalJSON renders the amount as a fixed two-decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts a quoted decimal string or a bare JSON number.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

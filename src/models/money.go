package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// moneyScale is the fixed internal precision of all Money amounts. Every
// constructor and arithmetic result is rounded to this scale with
// round-half-to-even, so repeated rounding over large batches carries no
// systematic bias.
const moneyScale int32 = 4

// Money is an immutable exact-decimal amount bound to a currency. All
// operations return new values; operations across currencies fail with
// ErrCurrencyMismatch rather than converting implicitly.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

// NewMoney builds a Money rounded to the internal scale.
func NewMoney(amount decimal.Decimal, currency Currency) Money {
	return Money{Amount: amount.RoundBank(moneyScale), Currency: currency}
}

// NewMoneyFromString parses a plain decimal string for the given currency code.
func NewMoneyFromString(amount, currencyCode string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return NewMoney(d, LookupCurrency(currencyCode)), nil
}

// TryParse parses an amount string that may contain grouping separators
// (commas, spaces, underscores). It never panics; ok reports success.
func TryParse(amount, currencyCode string) (Money, bool) {
	cleaned := strings.NewReplacer(",", "", " ", "", "_", "").Replace(strings.TrimSpace(amount))
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return Money{}, false
	}
	return NewMoney(d, LookupCurrency(currencyCode)), true
}

// ZeroMoney returns a zero amount in the given currency.
func ZeroMoney(currency Currency) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// MustMoney parses a decimal string or panics. Intended for static values and
// tests only.
func MustMoney(amount, currencyCode string) Money {
	m, err := NewMoneyFromString(amount, currencyCode)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) sameCurrency(other Money) error {
	if !m.Currency.Equals(other.Currency) {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency.Code, other.Currency.Code)
	}
	return nil
}

func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return NewMoney(m.Amount.Add(other.Amount), m.Currency), nil
}

func (m Money) Subtract(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return NewMoney(m.Amount.Sub(other.Amount), m.Currency), nil
}

func (m Money) Multiply(factor decimal.Decimal) Money {
	return NewMoney(m.Amount.Mul(factor), m.Currency)
}

func (m Money) Divide(divisor decimal.Decimal) (Money, error) {
	if divisor.IsZero() {
		return Money{}, ErrDivisionByZero
	}
	return NewMoney(m.Amount.Div(divisor), m.Currency), nil
}

// Percentage returns p percent of the amount.
func (m Money) Percentage(p decimal.Decimal) Money {
	return NewMoney(m.Amount.Mul(p).Div(decimal.NewFromInt(100)), m.Currency)
}

func (m Money) Negate() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

func (m Money) Abs() Money {
	return Money{Amount: m.Amount.Abs(), Currency: m.Currency}
}

// Round re-applies the internal rounding. Idempotent by construction.
func (m Money) Round() Money {
	return NewMoney(m.Amount, m.Currency)
}

// ConvertTo produces a new Money in the target currency at the given rate.
func (m Money) ConvertTo(target Currency, rate decimal.Decimal) (Money, error) {
	if rate.Sign() <= 0 {
		return Money{}, fmt.Errorf("%w: got %s", ErrInvalidRate, rate)
	}
	return NewMoney(m.Amount.Mul(rate), target), nil
}

// Allocate splits the amount into parts pieces whose sum is exactly the
// original. The leftover minimal unit (at the internal scale) is handed out
// one-by-one to the first pieces, so the split is deterministic.
func (m Money) Allocate(parts int) ([]Money, error) {
	if parts <= 0 {
		return nil, ErrInvalidAllocation
	}
	units := m.Amount.Shift(moneyScale).IntPart()
	base := units / int64(parts)
	rem := units - base*int64(parts)
	step := int64(1)
	if rem < 0 {
		step, rem = -1, -rem
	}
	out := make([]Money, parts)
	for i := range out {
		u := base
		if int64(i) < rem {
			u += step
		}
		out[i] = Money{Amount: decimal.New(u, -moneyScale), Currency: m.Currency}
	}
	return out, nil
}

// Sum adds a list of same-currency amounts. An empty list is an error so the
// caller is forced to pick a currency explicitly (see SumOrZero).
func Sum(monies []Money) (Money, error) {
	if len(monies) == 0 {
		return Money{}, ErrEmptyCollection
	}
	total := monies[0]
	for _, m := range monies[1:] {
		var err error
		if total, err = total.Add(m); err != nil {
			return Money{}, err
		}
	}
	return total, nil
}

// SumOrZero is Sum with an explicit zero value for empty lists.
func SumOrZero(currency Currency, monies []Money) (Money, error) {
	if len(monies) == 0 {
		return ZeroMoney(currency), nil
	}
	return Sum(monies)
}

func (m Money) IsZero() bool     { return m.Amount.IsZero() }
func (m Money) IsNegative() bool { return m.Amount.Sign() < 0 }
func (m Money) IsPositive() bool { return m.Amount.Sign() > 0 }

// Equals reports equality of both currency and amount.
func (m Money) Equals(other Money) bool {
	return m.Currency.Equals(other.Currency) && m.Amount.Equal(other.Amount)
}

// String renders the amount at the currency's display precision.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(int32(m.Currency.DecimalPlaces)), m.Currency.Code)
}

/*
Package ledger provides the double-entry core of the scenario engine.

PURPOSE:
  This package contains the domain-agnostic accounting machinery: exact
  decimal amounts, a month-granular time axis, an account registry with
  scope rules, and an append-only journal of balanced two-posting entries.
  Everything above it (bricks, strategies, scenarios) reduces to entries
  posted here; every report is a projection of the journal.

KEY CONCEPTS IN THIS FILE (types.go):
  - Currency: ISO code plus minor-unit metadata for quantization
  - Amount: a decimal quantity in a currency, with checked arithmetic

DESIGN PRINCIPLES:
  1. Exactness: decimal.Decimal end to end, no floats in money paths
  2. Append-only: entries are never modified, balances are derived
  3. Zero-sum: every entry's postings cancel within each currency
  4. Determinism: identical inputs produce byte-identical journals

SEE ALSO:
  - account.go: account scopes and the registry
  - journal.go: entries, postings, balance derivation
  - month.go: the month-granular time axis
*/
package ledger

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CURRENCY - ISO code with minor-unit metadata
// =============================================================================

// Currency is an ISO 4217 code. Minor-unit fractions come from the go-money
// currency table; unknown codes fall back to two decimal places.
type Currency string

const (
	EUR Currency = "EUR"
	USD Currency = "USD"
	GBP Currency = "GBP"
	CHF Currency = "CHF"
	JPY Currency = "JPY"
)

// MinorUnits returns the number of decimal places the currency is settled in.
func (c Currency) MinorUnits() int32 {
	if cur := money.GetCurrency(string(c)); cur != nil {
		return int32(cur.Fraction)
	}
	return 2
}

// Quantize rounds a raw decimal to the currency's minor units using
// banker's rounding. Entry construction quantizes; intermediate strategy
// math stays unrounded.
func (c Currency) Quantize(v decimal.Decimal) decimal.Decimal {
	return v.RoundBank(c.MinorUnits())
}

func (c Currency) String() string { return string(c) }

// =============================================================================
// AMOUNT - Decimal quantity in a currency
// =============================================================================

type Amount struct {
	Value    decimal.Decimal
	Currency Currency
}

func NewAmount(v decimal.Decimal, c Currency) Amount {
	return Amount{Value: v, Currency: c}
}

func AmountFromFloat(v float64, c Currency) Amount {
	return Amount{Value: decimal.NewFromFloat(v), Currency: c}
}

// MustParseDecimal parses a decimal literal in tests and fixtures,
// panicking on a malformed one.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic("ledger: bad decimal literal " + s + ": " + err.Error())
	}
	return d
}

// Add combines two amounts of the same currency.
func (a Amount) Add(b Amount) (Amount, error) {
	if a.Currency != b.Currency {
		return Amount{}, &CurrencyMismatchError{Left: a.Currency, Right: b.Currency, Op: "+"}
	}
	return Amount{Value: a.Value.Add(b.Value), Currency: a.Currency}, nil
}

// Sub subtracts b from a, requiring the same currency.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.Currency != b.Currency {
		return Amount{}, &CurrencyMismatchError{Left: a.Currency, Right: b.Currency, Op: "-"}
	}
	return Amount{Value: a.Value.Sub(b.Value), Currency: a.Currency}, nil
}

func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Currency: a.Currency} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Currency: a.Currency} }
func (a Amount) Abs() Amount                  { return Amount{Value: a.Value.Abs(), Currency: a.Currency} }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }

// Quantized returns the amount rounded to its currency's minor units.
func (a Amount) Quantized() Amount {
	return Amount{Value: a.Currency.Quantize(a.Value), Currency: a.Currency}
}

func (a Amount) String() string { return a.Value.String() + " " + string(a.Currency) }

/*
Package generic provides the domain-agnostic base shared by the ledger engine.

PURPOSE:
  Money, dates, ranges, the error taxonomy and the transaction boundary live
  here so that pricing, finance, stock and coleta speak the same vocabulary
  without importing each other.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A monetary value with a currency (always BRL today)
  - Cents precision: equality is decided after rounding to 2 decimals
  - ParseAmount: canonical normalization of user supplied decimal strings

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal, never float64, for money
  2. Canonical form: every amount entering the engine is rounded to cents
  3. Value semantics: Amount is immutable, arithmetic returns new values

USAGE:
  total, err := generic.ParseAmount("1.234,56")
  down := generic.NewAmountFromString("200.00")
  rest := total.Sub(down)

SEE ALSO:
  - time.go: Date and Clock
  - errors.go: Error taxonomy
*/
package generic

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Money with currency
// =============================================================================

// CentsPlaces is the precision used for every stored monetary value.
const CentsPlaces = 2

type Currency string

const CurrencyBRL Currency = "BRL"

type Amount struct {
	Value    decimal.Decimal
	Currency Currency
}

// NewAmount builds an amount from a float. Only use it for literals in tests
// and fixtures; user input goes through ParseAmount.
func NewAmount(value float64) Amount {
	return Amount{Value: decimal.NewFromFloat(value).Round(CentsPlaces), Currency: CurrencyBRL}
}

func NewAmountFromDecimal(d decimal.Decimal) Amount {
	return Amount{Value: d.Round(CentsPlaces), Currency: CurrencyBRL}
}

// NewAmountFromString panics on malformed input. Intended for constants.
func NewAmountFromString(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func ZeroAmount() Amount { return Amount{Value: decimal.Zero, Currency: CurrencyBRL} }

func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Currency: a.cur()} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Currency: a.cur()} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Currency: a.cur()} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Currency: a.cur()} }
func (a Amount) Round() Amount                { return Amount{Value: a.Value.Round(CentsPlaces), Currency: a.cur()} }
func (a Amount) IsNegative() bool             { return a.Round().Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Round().Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Round().Value.IsPositive() }
func (a Amount) Equal(b Amount) bool          { return a.Round().Value.Equal(b.Round().Value) }
func (a Amount) GreaterThan(b Amount) bool    { return a.Round().Value.GreaterThan(b.Round().Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Round().Value.LessThan(b.Round().Value) }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

// String renders the canonical representation, e.g. "1234.50".
func (a Amount) String() string { return a.Value.StringFixed(CentsPlaces) }

// Cents returns the amount as an integer number of cents.
func (a Amount) Cents() int64 { return a.Value.Shift(CentsPlaces).Round(0).IntPart() }

func (a Amount) cur() Currency {
	if a.Currency == "" {
		return CurrencyBRL
	}
	return a.Currency
}

// MarshalText keeps JSON and SQL columns in the canonical string form.
func (a Amount) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Amount) UnmarshalText(b []byte) error {
	parsed, err := ParseAmount(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// SumAmounts folds a list of amounts.
func SumAmounts(amounts ...Amount) Amount {
	total := ZeroAmount()
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// =============================================================================
// PARSING - Canonical currency representation
// =============================================================================

// ParseAmount accepts the shapes the forms produce ("1234.56", "1234,56",
// "1.234,56", "R$ 1.234,56", "1,234.56") and returns a cents-rounded Amount.
func ParseAmount(s string) (Amount, error) {
	d, err := parseDecimal(s)
	if err != nil {
		return Amount{}, NewValidationError("INVALID_AMOUNT", fmt.Sprintf("amount %q is not a number", s))
	}
	return NewAmountFromDecimal(d), nil
}

// ParseQuantity parses a non-monetary decimal (kg, units) with the same
// separator rules, without rounding to cents.
func ParseQuantity(s string) (decimal.Decimal, error) {
	d, err := parseDecimal(s)
	if err != nil {
		return decimal.Zero, NewValidationError("INVALID_QUANTITY", fmt.Sprintf("quantity %q is not a number", s))
	}
	return d, nil
}

// parseDecimal treats the right-most separator as the decimal one.
func parseDecimal(s string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(raw, "R$")
	raw = strings.ReplaceAll(raw, " ", "")
	if raw == "" {
		return decimal.Zero, fmt.Errorf("empty decimal")
	}
	if strings.ContainsAny(raw, "eE") {
		return decimal.Zero, fmt.Errorf("exponent notation in %q", s)
	}

	lastComma := strings.LastIndex(raw, ",")
	lastDot := strings.LastIndex(raw, ".")
	switch {
	case lastComma > lastDot:
		raw = strings.ReplaceAll(raw, ".", "")
		raw = strings.Replace(raw, ",", ".", 1)
	case lastDot > lastComma && lastComma >= 0:
		raw = strings.ReplaceAll(raw, ",", "")
	case lastDot >= 0 && strings.Count(raw, ".") > 1:
		// "1.234.567" is a thousands-grouped integer
		raw = strings.ReplaceAll(raw, ".", "")
	}
	return decimal.NewFromString(raw)
}

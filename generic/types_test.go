package generic_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/oleoverde/ledger-engine/generic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// AMOUNT PARSING
// =============================================================================

func TestParseAmount_AcceptsFormShapes(t *testing.T) {
	cases := map[string]string{
		"400":         "400.00",
		"400.5":       "400.50",
		"1234,56":     "1234.56",
		"1.234,56":    "1234.56",
		"R$ 1.234,56": "1234.56",
		"1,234.56":    "1234.56",
		"1.234.567":   "1234567.00",
		"0,005":       "0.01",
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			got, err := generic.ParseAmount(in)
			require.NoError(t, err)
			assert.Equal(t, want, got.String())
			assert.Equal(t, generic.CurrencyBRL, got.Currency)
		})
	}
}

func TestParseAmount_RejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "R$", "12a", "1e3", "2,5E2"} {
		_, err := generic.ParseAmount(in)
		require.Error(t, err, in)
		assert.Equal(t, "INVALID_AMOUNT", generic.CodeOf(err))
		assert.True(t, generic.IsClientError(err))
	}
}

func TestParseQuantity_RejectsExponent(t *testing.T) {
	_, err := generic.ParseQuantity("1e3")
	assert.Equal(t, "INVALID_QUANTITY", generic.CodeOf(err))
}

func TestParseQuantity_KeepsPrecision(t *testing.T) {
	q, err := generic.ParseQuantity("12,345")
	require.NoError(t, err)
	assert.True(t, q.Equal(decimal.RequireFromString("12.345")))
}

// =============================================================================
// AMOUNT ARITHMETIC
// =============================================================================

func TestAmount_ComparisonsUseCents(t *testing.T) {
	// GIVEN: two values that differ below the cent
	a := generic.Amount{Value: decimal.RequireFromString("10.001")}
	b := generic.NewAmount(10)

	// THEN: they compare equal and neither is greater
	assert.True(t, a.Equal(b))
	assert.False(t, a.GreaterThan(b))
	assert.False(t, b.LessThan(a))
}

func TestAmount_SumAndCents(t *testing.T) {
	total := generic.SumAmounts(generic.NewAmount(0.1), generic.NewAmount(0.2), generic.NewAmount(0.3))

	assert.Equal(t, "0.60", total.String())
	assert.Equal(t, int64(60), total.Cents())
	assert.True(t, generic.ZeroAmount().IsZero())
	assert.True(t, total.Neg().IsNegative())
	assert.Equal(t, "0.10", generic.NewAmount(0.1).Min(total).String())
}

func TestAmount_TextRoundTrip(t *testing.T) {
	a := generic.NewAmountFromString("1.000,50")

	text, err := a.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1000.50", string(text))

	var back generic.Amount
	require.NoError(t, back.UnmarshalText(text))
	assert.True(t, back.Equal(a))
}

// =============================================================================
// DATES AND RANGES
// =============================================================================

func TestParseDate(t *testing.T) {
	d, err := generic.ParseDate("2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, generic.NewDate(2024, time.March, 1), d)
	assert.Equal(t, "2024-03-31", d.AddDays(30).String())
	assert.Equal(t, "2024-04-01", d.AddMonths(1).String())

	_, err = generic.ParseDate("01/03/2024")
	require.Error(t, err)
	assert.Equal(t, "INVALID_DATE", generic.CodeOf(err))
}

func TestDateOf_TruncatesTime(t *testing.T) {
	d := generic.DateOf(time.Date(2024, time.May, 5, 23, 59, 0, 0, time.UTC))
	assert.True(t, d.Equal(generic.NewDate(2024, time.May, 5)))
	assert.Equal(t, "", generic.Date{}.String())
}

func TestDateRange_InclusiveAndOpenBounds(t *testing.T) {
	r := generic.DateRange{From: generic.NewDate(2024, 1, 1), To: generic.NewDate(2024, 1, 31)}

	assert.True(t, r.Contains(generic.NewDate(2024, 1, 1)))
	assert.True(t, r.Contains(generic.NewDate(2024, 1, 31)))
	assert.False(t, r.Contains(generic.NewDate(2024, 2, 1)))
	assert.True(t, generic.DateRange{}.Contains(generic.NewDate(1990, 1, 1)))

	inverted := generic.DateRange{From: r.To, To: r.From}
	assert.ErrorIs(t, inverted.Validate(), generic.ErrInvalidRange)
}

func TestFixedClock(t *testing.T) {
	day := generic.NewDate(2024, 6, 15)
	clock := generic.FixedClock(day)
	assert.Equal(t, day, clock())
}

// =============================================================================
// PAGINATION
// =============================================================================

func TestPage_NormalizeAndBounds(t *testing.T) {
	p := generic.Page{}.Normalize()
	assert.Equal(t, 1, p.Number)
	assert.Equal(t, generic.DefaultPageSize, p.Size)

	assert.Equal(t, generic.MaxPageSize, generic.Page{Size: 1000}.Normalize().Size)

	start, end := generic.Page{Number: 2, Size: 10}.Bounds(25)
	assert.Equal(t, 10, start)
	assert.Equal(t, 20, end)

	start, end = generic.Page{Number: 3, Size: 10}.Bounds(25)
	assert.Equal(t, 20, start)
	assert.Equal(t, 25, end)

	start, end = generic.Page{Number: 9, Size: 10}.Bounds(25)
	assert.Equal(t, 25, start)
	assert.Equal(t, 25, end)
}

func TestPage_HugeNumberLandsPastTheEnd(t *testing.T) {
	for _, n := range []int{461168601842738792, math.MaxInt} {
		start, end := generic.Page{Number: n, Size: 20}.Bounds(25)
		assert.Equal(t, 25, start, n)
		assert.Equal(t, 25, end, n)
	}

	p := generic.Page{Number: math.MaxInt, Size: generic.MaxPageSize}.Normalize()
	assert.LessOrEqual(t, p.Number, math.MaxInt/generic.MaxPageSize)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestErrors_DetailStillMatchesSentinel(t *testing.T) {
	err := generic.Detail(generic.ErrExceedsBalance, "payment %s exceeds %s", "500.00", "400.00")

	assert.ErrorIs(t, err, generic.ErrExceedsBalance)
	assert.Equal(t, generic.KindBusinessRule, generic.KindOf(err))
	assert.Equal(t, "EXCEEDS_BALANCE", generic.CodeOf(err))
	assert.True(t, generic.IsRuleViolation(err))
	assert.Contains(t, err.Error(), "500.00")
}

func TestErrors_WrappedKeepsKind(t *testing.T) {
	err := fmt.Errorf("saving installment: %w", generic.ErrConcurrentModification)

	assert.True(t, generic.IsRetryable(err))
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
}

func TestErrors_ForeignErrorIsInternal(t *testing.T) {
	err := errors.New("disk full")

	assert.Equal(t, generic.KindInternal, generic.KindOf(err))
	assert.Equal(t, "INTERNAL_ERROR", generic.CodeOf(err))
	assert.False(t, generic.IsRetryable(err))
}

func TestErrors_NotFoundAndValidation(t *testing.T) {
	nf := generic.NotFound("entry", "e-1")
	assert.True(t, generic.IsNotFound(nf))
	assert.ErrorIs(t, nf, generic.ErrNotFound)
	assert.Contains(t, nf.Error(), `"e-1"`)

	v := generic.NewValidationError("COUNTERPARTY_REQUIRED", "counterparty is required")
	assert.ErrorIs(t, v, generic.ErrValidation)
	assert.Equal(t, "COUNTERPARTY_REQUIRED", generic.CodeOf(v))
}

func TestActor_DefaultsToSystem(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "system", generic.ActorFrom(ctx))
	assert.Equal(t, "u-42", generic.ActorFrom(generic.WithActor(ctx, "u-42")))
}
